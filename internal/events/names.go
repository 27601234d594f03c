package events

// Event names emitted by the pipeline executor and cache engine, per
// spec.md §4.7's required per-action sequence. TargetBuilt is declared
// for subscribers but is not emitted anywhere.
const (
	ActionStarted  Name = "ActionStarted"
	ActionFinished Name = "ActionFinished"

	TargetRunning            Name = "TargetRunning"
	TargetOutputCacheCheck   Name = "TargetOutputCacheCheck"
	TargetOutputHydrating    Name = "TargetOutputHydrating"
	TargetOutputHydrated     Name = "TargetOutputHydrated"
	TargetOutputArchiving    Name = "TargetOutputArchiving"
	TargetOutputArchived     Name = "TargetOutputArchived"
	TargetRan                Name = "TargetRan"
	TargetCached             Name = "TargetCached"
	TargetBuilt              Name = "TargetBuilt"
)

// ActionStartedData is the payload for ActionStarted/ActionFinished.
type ActionStartedData struct {
	ActionKey string
}

// TargetOutputCacheCheckData is the payload for TargetOutputCacheCheck. A
// subscriber returns events.ReturnFlow("local-cache") or
// events.ReturnFlow("remote-cache") to indicate a hit source, per
// spec.md §4.6.
type TargetOutputCacheCheckData struct {
	Target string
	Hash   string
}
