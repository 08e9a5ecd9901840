package domain

import (
	"strconv"
	"strings"
	"time"
)

// InteractionKind is the set of input event kinds the replay layer
// captures and re-dispatches.
type InteractionKind string

const (
	InteractionClick      InteractionKind = "click"
	InteractionFocus      InteractionKind = "focus"
	InteractionInput      InteractionKind = "input"
	InteractionKeyDown    InteractionKind = "keydown"
	InteractionKeyUp      InteractionKind = "keyup"
	InteractionSubmit     InteractionKind = "submit"
	InteractionChange     InteractionKind = "change"
	InteractionTouchStart InteractionKind = "touchstart"
	InteractionTouchEnd   InteractionKind = "touchend"
)

// InteractionKinds lists every capturable kind in a stable order.
var InteractionKinds = []InteractionKind{
	InteractionClick, InteractionFocus, InteractionInput,
	InteractionKeyDown, InteractionKeyUp, InteractionSubmit,
	InteractionChange, InteractionTouchStart, InteractionTouchEnd,
}

// Interaction is one input event: the kind, its propagation flags, and
// the kind-specific payload. Unused payload fields stay zero.
type Interaction struct {
	Kind       InteractionKind
	Bubbles    bool
	Cancelable bool

	// Value carries text for input/change events.
	Value string

	// Key state for keydown/keyup.
	Key      string
	AltKey   bool
	CtrlKey  bool
	MetaKey  bool
	ShiftKey bool

	// Pointer coordinates for click/touch.
	ClientX float64
	ClientY float64
}

// CapturedInteraction is an Interaction buffered for later replay,
// together with the descriptor needed to re-locate its target.
type CapturedInteraction struct {
	ID string
	Interaction
	Descriptor TargetDescriptor
	CapturedAt time.Time
}

// PathSegment is one step of a structural fallback path: tag name, a
// few class tokens, and the element's index among same-tag siblings.
type PathSegment struct {
	Tag          string
	Classes      []string
	SiblingIndex int
}

// TargetDescriptor re-locates an element after its boundary has been
// activated. Resolution preference: stable id attribute, then test id,
// then hydration marker, then the structural path.
type TargetDescriptor struct {
	ID     string
	TestID string
	Marker string
	Path   []PathSegment
}

// Empty reports whether the descriptor carries nothing to resolve by.
func (d TargetDescriptor) Empty() bool {
	return d.ID == "" && d.TestID == "" && d.Marker == "" && len(d.Path) == 0
}

// Selector renders the descriptor as a selector string, usable both as
// a resolver input and as a cache key.
func (d TargetDescriptor) Selector() string {
	switch {
	case d.ID != "":
		return "#" + d.ID
	case d.TestID != "":
		return `[data-testid="` + d.TestID + `"]`
	case d.Marker != "":
		return `[data-hydration-target="` + d.Marker + `"]`
	}
	parts := make([]string, 0, len(d.Path))
	for _, seg := range d.Path {
		s := seg.Tag
		for _, c := range seg.Classes {
			s += "." + c
		}
		s += ":nth-of-type(" + strconv.Itoa(seg.SiblingIndex+1) + ")"
		parts = append(parts, s)
	}
	return strings.Join(parts, " > ")
}

// Target is the host-supplied handle to one render target. The
// scheduler attaches trigger listeners to it and the replay engine
// dispatches synthetic events at it; the core never inspects it beyond
// this interface.
type Target interface {
	// Attribute returns the named attribute value, if present.
	Attribute(name string) (string, bool)

	// Path returns the structural fallback path from the root to this
	// target. May be nil when the host cannot compute one.
	Path() []PathSegment

	// Listen attaches a listener for the given interaction kind and
	// returns a detach function.
	Listen(kind InteractionKind, fn func(Interaction)) (cancel func())

	// Dispatch delivers a synthetic interaction to the target.
	Dispatch(in Interaction)
}

// TargetResolver re-locates a target from its descriptor after the
// boundary's structure has been finalized. Implementations return
// false when no element matches.
type TargetResolver interface {
	Resolve(d TargetDescriptor) (Target, bool)
}
