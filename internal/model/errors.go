package model

import "errors"

var (
	ErrUnknownFamily = errors.New("unknown indicator family")
	ErrInvalidPeriod = errors.New("invalid indicator period")
	ErrInvalidConfig = errors.New("invalid configuration")
)
