package engine

import "errors"

var ErrUnknownRace = errors.New("unknown race")

var (
	ErrNilObserver           = errors.New("observer is nil")
	ErrObserverNotComparable = errors.New("observer is not comparable")
)
