package autofill

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// TOTP holds a normalized base32 seed and the generator parameters.
type TOTP struct {
	Secret string
	Opts   totp.ValidateOpts
}

// ParseTOTP accepts an otpauth:// URI or a bare base32 seed. Bare seeds use
// SHA-1, 30 second steps and 6 digits.
func ParseTOTP(raw string) (*TOTP, error) {
	raw = strings.TrimSpace(raw)
	t := &TOTP{Opts: totp.ValidateOpts{Period: 30, Digits: otp.DigitsSix, Algorithm: otp.AlgorithmSHA1}}
	seed := raw
	if strings.HasPrefix(strings.ToLower(raw), "otpauth://") {
		key, err := otp.NewKeyFromURL(raw)
		if err != nil {
			return nil, fmt.Errorf("autofill: parse otpauth uri: %w", err)
		}
		seed = key.Secret()
		t.Opts.Period = uint(key.Period())
		// otp.Key folds unknown digits and algorithms into defaults, so the
		// raw parameters are checked here.
		u, err := url.Parse(key.URL())
		if err != nil {
			return nil, fmt.Errorf("autofill: parse otpauth uri: %w", err)
		}
		q := u.Query()
		if d := q.Get("digits"); d != "" {
			n, err := strconv.Atoi(d)
			if err != nil || n < 6 || n > 10 {
				return nil, fmt.Errorf("autofill: invalid totp digits %q", d)
			}
			t.Opts.Digits = otp.Digits(n)
		}
		if p := q.Get("period"); p != "" {
			if n, err := strconv.Atoi(p); err != nil || n <= 0 {
				return nil, fmt.Errorf("autofill: invalid totp period %q", p)
			}
		}
		switch strings.ToUpper(q.Get("algorithm")) {
		case "", "SHA1":
		case "SHA256":
			t.Opts.Algorithm = otp.AlgorithmSHA256
		case "SHA512":
			t.Opts.Algorithm = otp.AlgorithmSHA512
		default:
			return nil, fmt.Errorf("autofill: unsupported totp algorithm %q", q.Get("algorithm"))
		}
	}

	seed = strings.ToUpper(strings.NewReplacer(" ", "", "-", "").Replace(seed))
	seed = strings.TrimRight(seed, "=")
	if seed == "" {
		return nil, fmt.Errorf("autofill: empty totp secret")
	}
	t.Secret = seed
	if _, err := t.Code(time.Unix(0, 0)); err != nil {
		return nil, err
	}
	return t, nil
}

// Code returns the one-time code for the step containing at.
func (t *TOTP) Code(at time.Time) (string, error) {
	code, err := totp.GenerateCodeCustom(t.Secret, at, t.Opts)
	if err != nil {
		return "", fmt.Errorf("autofill: generate totp: %w", err)
	}
	return code, nil
}
