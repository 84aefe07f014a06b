// Package router turns one line of chat input into exactly one page query.
//
// Input is first tried against a fixed command vocabulary (Matcher). Anything
// the matcher does not recognise is handed to a language model (Fallback),
// whose JSON answer is validated into the same Intent union. The Dispatcher
// executes the intent against the page store and formats plain text.
package router

import "github.com/JakeFAU/supacrawl/internal/crawler"

// Action names an intent variant. The string values are also the closed
// enum accepted from the language model.
type Action string

// Intent actions.
const (
	ActionLatest        Action = "latest"
	ActionFindURL       Action = "find_url"
	ActionSearchTitle   Action = "search_title"
	ActionSearchSummary Action = "search_summary"
	ActionCount         Action = "count"
	ActionContent       Action = "content"
	ActionSummaries     Action = "summaries"
	ActionPing          Action = "test"
	ActionHelp          Action = "help"
	ActionQuit          Action = "quit"
	ActionUnknown       Action = "unknown"
)

// Source records which stage produced an intent.
type Source string

// Intent sources.
const (
	SourcePattern Source = "pattern"
	SourceLLM     Source = "llm"
)

// Intent is the tagged union of everything the router can do.
// Only the types in this file implement it.
type Intent interface {
	Action() Action
	isIntent()
}

// Latest lists the newest pages.
type Latest struct{ Limit int }

// FindURL looks up one page by exact URL.
type FindURL struct{ URL string }

// Search does a case-insensitive substring search on one column.
type Search struct {
	Column crawler.SearchColumn
	Query  string
	Limit  int
}

// Count returns the number of stored pages.
type Count struct{}

// Content shows the stored content of one page.
type Content struct{ ID int64 }

// Summaries lists pages that have both a title and a summary.
type Summaries struct{ Limit int }

// Ping checks the database connection.
type Ping struct{}

// Help prints the command reference.
type Help struct{}

// Quit ends the chat session.
type Quit struct{}

// Unknown is produced when input could not be interpreted.
// Notice, when set, explains an upstream failure to the user.
type Unknown struct{ Notice string }

// Action implements Intent.
func (Latest) Action() Action { return ActionLatest }

// Action implements Intent.
func (FindURL) Action() Action { return ActionFindURL }

// Action implements Intent.
func (s Search) Action() Action {
	if s.Column == crawler.ColumnSummary {
		return ActionSearchSummary
	}
	return ActionSearchTitle
}

// Action implements Intent.
func (Count) Action() Action { return ActionCount }

// Action implements Intent.
func (Content) Action() Action { return ActionContent }

// Action implements Intent.
func (Summaries) Action() Action { return ActionSummaries }

// Action implements Intent.
func (Ping) Action() Action { return ActionPing }

// Action implements Intent.
func (Help) Action() Action { return ActionHelp }

// Action implements Intent.
func (Quit) Action() Action { return ActionQuit }

// Action implements Intent.
func (Unknown) Action() Action { return ActionUnknown }

func (Latest) isIntent()    {}
func (FindURL) isIntent()   {}
func (Search) isIntent()    {}
func (Count) isIntent()     {}
func (Content) isIntent()   {}
func (Summaries) isIntent() {}
func (Ping) isIntent()      {}
func (Help) isIntent()      {}
func (Quit) isIntent()      {}
func (Unknown) isIntent()   {}

// Limits holds the default row counts applied when input omits one.
type Limits struct {
	Latest    int
	Search    int
	Summaries int
}

// DefaultLimits mirrors the chat defaults.
func DefaultLimits() Limits {
	return Limits{Latest: 5, Search: 10, Summaries: 10}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.Latest <= 0 {
		l.Latest = d.Latest
	}
	if l.Search <= 0 {
		l.Search = d.Search
	}
	if l.Summaries <= 0 {
		l.Summaries = d.Summaries
	}
	return l
}
