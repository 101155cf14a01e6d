// Package backup implements the per-run dialog enumeration, admission
// filtering, and incremental per-chat pull the rest of the archive depends
// on to have data at all.
package backup

import (
	"strings"

	"telegram-archive/internal/chatid"
	"telegram-archive/internal/config"
	"telegram-archive/internal/telegram"
)

// Admission evaluates the priority-ordered include/exclude ruleset of one
// backup run: global exclude, type exclude, global include, type include,
// configured chat types, each checked in that order with first match
// winning.
type Admission struct {
	chatTypes map[string]bool

	globalInclude, globalExclude     chatid.Set
	privateInclude, privateExclude   chatid.Set
	groupsInclude, groupsExclude     chatid.Set
	channelsInclude, channelsExclude chatid.Set

	priorityOrder []int64
	priorityIndex map[int64]int
}

// NewAdmission builds an Admission from the configured allow/deny lists.
func NewAdmission(cfg config.AdmissionConfig) *Admission {
	types := make(map[string]bool)
	for _, t := range strings.Split(cfg.ChatTypesRaw, ",") {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			types[t] = true
		}
	}

	priority := chatid.ParseList(cfg.PriorityChatIDsRaw)
	priorityIndex := make(map[int64]int, len(priority))
	for i, id := range priority {
		priorityIndex[id] = i
	}

	return &Admission{
		chatTypes:        types,
		globalInclude:    chatid.NewSet(chatid.ParseList(cfg.GlobalIncludeRaw)),
		globalExclude:    chatid.NewSet(chatid.ParseList(cfg.GlobalExcludeRaw)),
		privateInclude:   chatid.NewSet(chatid.ParseList(cfg.PrivateIncludeRaw)),
		privateExclude:   chatid.NewSet(chatid.ParseList(cfg.PrivateExcludeRaw)),
		groupsInclude:    chatid.NewSet(chatid.ParseList(cfg.GroupsIncludeRaw)),
		groupsExclude:    chatid.NewSet(chatid.ParseList(cfg.GroupsExcludeRaw)),
		channelsInclude:  chatid.NewSet(chatid.ParseList(cfg.ChannelsIncludeRaw)),
		channelsExclude:  chatid.NewSet(chatid.ParseList(cfg.ChannelsExcludeRaw)),
		priorityOrder:    priority,
		priorityIndex:    priorityIndex,
	}
}

// Verdict is the result of evaluating one dialog against the ruleset.
type Verdict int

const (
	// VerdictDrop means: not kept, and not previously tracked either —
	// simply skip it.
	VerdictDrop Verdict = iota
	// VerdictDelete means: drop it AND it must be purged if already archived.
	VerdictDelete
	// VerdictKeep means: admit it into this run's pull set.
	VerdictKeep
)

func (a *Admission) typeIncludeExclude(kind telegram.DialogKind) (include, exclude chatid.Set) {
	switch kind {
	case telegram.DialogUser:
		return a.privateInclude, a.privateExclude
	case telegram.DialogGroup:
		return a.groupsInclude, a.groupsExclude
	case telegram.DialogChannel:
		return a.channelsInclude, a.channelsExclude
	default:
		return nil, nil
	}
}

func (a *Admission) typeName(kind telegram.DialogKind) string {
	switch kind {
	case telegram.DialogUser:
		return "private"
	case telegram.DialogGroup:
		return "groups"
	case telegram.DialogChannel:
		return "channels"
	default:
		return ""
	}
}

// Evaluate applies the five-step priority ruleset to one dialog: global
// exclude, type exclude, global include, type include, configured chat
// types — first match wins.
func (a *Admission) Evaluate(id int64, kind telegram.DialogKind) Verdict {
	typeInclude, typeExclude := a.typeIncludeExclude(kind)

	if a.globalExclude.Contains(id) {
		return VerdictDelete
	}
	if typeExclude.Contains(id) {
		return VerdictDelete
	}
	if a.globalInclude.Contains(id) {
		return VerdictKeep
	}
	if typeInclude.Contains(id) {
		return VerdictKeep
	}
	if a.chatTypes[a.typeName(kind)] {
		return VerdictKeep
	}
	return VerdictDrop
}

// MissingIncludes returns every explicitly include-listed id that did not
// appear in the enumerated dialog set, for the "fetch missing includes"
// step.
func (a *Admission) MissingIncludes(seen chatid.Set) []int64 {
	var missing []int64
	for _, set := range []chatid.Set{a.globalInclude, a.privateInclude, a.groupsInclude, a.channelsInclude} {
		for id := range set {
			if !seen.Contains(id) {
				missing = append(missing, id)
			}
		}
	}
	return missing
}

// AllIncludes unions every include list (global and per-type), for the
// listener's explicit-include admission check.
func (a *Admission) AllIncludes() chatid.Set {
	out := make(chatid.Set)
	for _, set := range []chatid.Set{a.globalInclude, a.privateInclude, a.groupsInclude, a.channelsInclude} {
		for id := range set {
			out[id] = struct{}{}
		}
	}
	return out
}

// PriorityIndex returns the dialog's position in PRIORITY_CHAT_IDS and
// whether it was listed at all, for the ordering step: priority-listed ids
// come first in input order, then the rest by recency.
func (a *Admission) PriorityIndex(id int64) (int, bool) {
	idx, ok := a.priorityIndex[id]
	return idx, ok
}
