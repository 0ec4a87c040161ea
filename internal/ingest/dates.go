// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ingest

import (
	"errors"
	"net/mail"
	"strings"
	"time"
)

// ErrInvalidDate is returned when neither the parsed invoice date nor the
// email Date header can be read.
var ErrInvalidDate = errors.New("invalid invoice date")

// DefaultDriftDays is how far the parsed date may sit from the header date
// before the header wins.
const DefaultDriftDays = 45

const dayLayout = "2006-01-02"

// ResolveInvoiceDate picks the invoice date. Results are anchored at 12:00
// UTC so the calendar day survives any conversion within +/-12h.
func ResolveInvoiceDate(parsed, header string, driftDays int) (time.Time, error) {
	if driftDays <= 0 {
		driftDays = DefaultDriftDays
	}

	p, pok := ParseDay(parsed)
	h, hok := headerDay(header)

	switch {
	case pok && hok:
		drift := p.Sub(h)
		if drift < 0 {
			drift = -drift
		}
		if drift > time.Duration(driftDays)*24*time.Hour {
			return h, nil
		}
		return p, nil
	case pok:
		return p, nil
	case hok:
		return h, nil
	}
	return time.Time{}, ErrInvalidDate
}

// ParseDay reads a YYYY-MM-DD date (an RFC 3339 timestamp is cut to its
// date) and anchors it at noon UTC.
func ParseDay(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if len(s) > len(dayLayout) {
		s = s[:len(dayLayout)]
	}
	t, err := time.Parse(dayLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return noonUTC(t), true
}

// headerDay takes the sender's calendar date from an RFC 5322 Date header.
func headerDay(h string) (time.Time, bool) {
	h = strings.TrimSpace(h)
	if h == "" {
		return time.Time{}, false
	}
	t, err := mail.ParseDate(h)
	if err != nil {
		return time.Time{}, false
	}
	return noonUTC(t), true
}

func noonUTC(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 12, 0, 0, 0, time.UTC)
}
