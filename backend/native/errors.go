package native

import "errors"

// Package errors for the hal device.
var (
	// ErrNoHALProvider is returned by NewFromProvider when the provider does
	// not expose its hal device and queue.
	ErrNoHALProvider = errors.New("native: provider does not expose a hal device")

	// ErrUnknownResource is returned for IDs this device never created or
	// has destroyed.
	ErrUnknownResource = errors.New("native: unknown resource")

	// ErrInvalidDescriptor is returned when a resource description cannot be
	// created on the device.
	ErrInvalidDescriptor = errors.New("native: invalid descriptor")

	// ErrNotMappable is returned by MapBuffer for buffers that were not
	// created host visible.
	ErrNotMappable = errors.New("native: buffer is not host visible")

	// ErrSemaphore is returned when a submission waits on a semaphore that
	// nothing will signal.
	ErrSemaphore = errors.New("native: semaphore misuse")

	// ErrForeignObject is returned when a command list, semaphore or
	// swapchain of another device is passed in.
	ErrForeignObject = errors.New("native: object belongs to another device")

	// ErrTimeout is returned when the GPU does not finish in time.
	ErrTimeout = errors.New("native: timed out waiting for the GPU")
)
