package registry

import (
	"crypto/rand"

	"mapbingo/server/internal/logging"
)

const codeAlphabet = "0123456789"

// maxCodeAttempts caps the collision-retry loop. With a six digit code and a
// realistic number of concurrent rooms the loop terminates on the first draw;
// the cap exists so a pathological state shows up in logs instead of spinning.
const maxCodeAttempts = 64

// randomCode draws a fixed-length digit code using rejection sampling so every
// digit is uniformly distributed.
func randomCode(n int) string {
	const max = byte(255 - (256 % len(codeAlphabet)))

	out := make([]byte, 0, n)
	buf := make([]byte, n*2)

	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			panic(err)
		}
		for _, b := range buf {
			if b <= max {
				out = append(out, codeAlphabet[int(b)%len(codeAlphabet)])
				if len(out) == n {
					return string(out)
				}
			}
		}
	}
	return string(out)
}

// RegisterWithCode draws join codes until registration succeeds, then returns
// the handle and the code it was registered under. The build function receives
// the drawn code so the value can embed it.
func (d *Directory[T]) RegisterWithCode(length int, build func(code string) *T) (*Handle[T], string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code := randomCode(length)
		handle, err := d.Register(code, build(code))
		if err == nil {
			if attempt > 0 {
				logging.L().Warn("join code collision", logging.Int("attempts", attempt+1))
			}
			return handle, code, nil
		}
	}
	return nil, "", ErrCodeSpaceExhausted
}
