package api

import (
	"errors"
	"strconv"
	"time"
)

var errNoPeriod = errors.New("api: no period")

func parsePeriodQuery(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, errNoPeriod
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms <= 0 {
		return 0, errNoPeriod
	}
	return time.Duration(ms) * time.Millisecond, nil
}
