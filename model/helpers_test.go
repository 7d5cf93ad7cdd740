package model

import "time"

func fixedTime(sec int64) time.Time { return time.Unix(sec, 0).UTC() }
