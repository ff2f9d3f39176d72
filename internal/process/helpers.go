package process

import (
	"errors"
	"time"
)

var errGone = errors.New("process already exited")

func errBeforeStart(d time.Duration, exitErr error) error {
	if exitErr != nil {
		return errors.New("process exited before start duration " + d.String() + ": " + exitErr.Error())
	}
	return errors.New("process exited before start duration " + d.String())
}
