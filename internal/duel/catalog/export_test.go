package catalog

import "time"

func SetClock(o *Object, now func() time.Time) {
	o.now = now
}
