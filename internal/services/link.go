/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package services

import (
	"regexp"

	"github.com/HamedShams/timepulse/internal/domain"
)

var identifierPattern = regexp.MustCompile(`[A-Z]+-\d+`)

// ExtractIdentifier returns the first issue identifier in a description.
func ExtractIdentifier(description string) (string, bool) {
	id := identifierPattern.FindString(description)
	return id, id != ""
}

// LinkReason explains why an entry could not be linked.
type LinkReason string

const (
	Linked              LinkReason = ""
	ReasonNoIdentifier  LinkReason = "no-identifier"
	ReasonIssueNotFound LinkReason = "issue-not-found"
)

// Linker resolves time entries to issues known in the current run.
type Linker struct {
	known map[string]int64
}

// NewLinker takes identifier -> storage id of every issue of the run.
func NewLinker(known map[string]int64) *Linker {
	return &Linker{known: known}
}

func (l *Linker) Link(e domain.RawTimeEntry) (identifier string, issueID int64, reason LinkReason) {
	identifier, ok := ExtractIdentifier(e.Description)
	if !ok {
		return "", 0, ReasonNoIdentifier
	}
	issueID, ok = l.known[identifier]
	if !ok {
		return identifier, 0, ReasonIssueNotFound
	}
	return identifier, issueID, Linked
}
