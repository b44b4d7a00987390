package taskgraph

import "errors"

// Construction errors, returned while registering resources and adding
// tasks.
var (
	// ErrDuplicateName is returned when two resources of a graph share a name.
	ErrDuplicateName = errors.New("taskgraph: duplicate resource name")

	// ErrKindMismatch is returned when an attachment's declared kind differs
	// from the kind of the resource it refers to.
	ErrKindMismatch = errors.New("taskgraph: attachment kind does not match resource")

	// ErrAliasedAttachment is returned when two attachments of one task refer
	// to the same resource.
	ErrAliasedAttachment = errors.New("taskgraph: resource attached twice in one task")

	// ErrGraphCompleted is returned when a completed graph is modified.
	ErrGraphCompleted = errors.New("taskgraph: graph already completed")

	// ErrAlreadyRegistered is returned when an external resource is
	// registered twice in one graph.
	ErrAlreadyRegistered = errors.New("taskgraph: external resource already registered")

	// ErrUnregisteredResource is returned when a task attaches an external
	// resource that was not registered in the graph.
	ErrUnregisteredResource = errors.New("taskgraph: external resource not registered")

	// ErrForeignResource is returned when a task attaches a transient
	// resource created by another graph.
	ErrForeignResource = errors.New("taskgraph: transient resource belongs to another graph")

	// ErrMultipleSwapchains is returned when a second swapchain image is
	// registered.
	ErrMultipleSwapchains = errors.New("taskgraph: graph already has a swapchain image")

	// ErrInvalidTask is returned for tasks on unknown queues, attachments
	// with an empty view, and invalid slices.
	ErrInvalidTask = errors.New("taskgraph: invalid task")

	// ErrAfterPresent is returned when tasks or submits follow Present.
	ErrAfterPresent = errors.New("taskgraph: graph already presented")

	// ErrInvalidResource is returned for malformed transient descriptions.
	ErrInvalidResource = errors.New("taskgraph: invalid resource description")
)

// Scheduling errors, returned by Complete.
var (
	// ErrMixedQueueAccess is returned when accesses of one resource within a
	// submit cannot be ordered because they run on different queues.
	ErrMixedQueueAccess = errors.New("taskgraph: conflicting accesses on different queues in one submit")

	// ErrPresentWithoutUse is returned when Present is called but no task
	// accesses the swapchain image.
	ErrPresentWithoutUse = errors.New("taskgraph: present without swapchain image access")

	// ErrPresentMultiQueue is returned when the last access of the swapchain
	// image spans several queues.
	ErrPresentMultiQueue = errors.New("taskgraph: swapchain image last accessed on multiple queues")

	// ErrNotCompleted is returned by Execute before Complete.
	ErrNotCompleted = errors.New("taskgraph: graph not completed")

	// ErrIncompatibleMemory is returned when transient resources share no
	// memory type.
	ErrIncompatibleMemory = errors.New("taskgraph: transient resources share no memory type")

	// ErrGraphFailed wraps the first construction or scheduling error. A
	// failed graph refuses further work.
	ErrGraphFailed = errors.New("taskgraph: graph failed")
)

// Runtime errors, returned by Execute.
var (
	// ErrInvalidExternal is returned when an external resource has no live
	// identity or its identity does not fit the declared accesses.
	ErrInvalidExternal = errors.New("taskgraph: invalid external resource")

	// ErrUsageMismatch is returned when an external resource lacks usage
	// flags required by its accesses.
	ErrUsageMismatch = errors.New("taskgraph: resource usage flags do not cover accesses")

	// ErrBlobMismatch is returned when a task's attachment blob disagrees
	// with the resolved attachments.
	ErrBlobMismatch = errors.New("taskgraph: attachment blob out of date")

	// ErrClosed is returned by operations on a closed graph or context.
	ErrClosed = errors.New("taskgraph: closed")
)

// graphError records err as the graph's terminal error.
type graphError struct {
	err error
}

func (e *graphError) Error() string { return e.err.Error() }

func (e *graphError) Unwrap() []error { return []error{ErrGraphFailed, e.err} }
