package publication

import (
	"time"

	"github.com/bmwcarit/joynr-cc/internal/model"
)

// upliftedExpiry computes the absolute expiry for a publication or
// subscription-reply message: base + uplift from now, capped at
// model.MaxTTL. Uplifting a NO_EXPIRY TTL is a no-op — NO_EXPIRY plus
// anything is still NO_EXPIRY (spec §4.10).
func upliftedExpiry(now time.Time, noExpiry bool, base, uplift time.Duration) time.Time {
	if noExpiry {
		return model.NoExpiry
	}
	d := base + uplift
	if d > model.MaxTTL {
		d = model.MaxTTL
	}
	if d < 0 {
		d = 0
	}
	return now.Add(d)
}
