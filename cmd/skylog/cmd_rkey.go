package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/daviddao/skylog/pkg/rkey"
)

type rkeyInfo struct {
	Key     string    `json:"key"`
	Micros  int64     `json:"micros"`
	Millis  int64     `json:"millis"`
	Time    time.Time `json:"time"`
	ClockID uint64    `json:"clock_id"`
}

func describeKey(s string) (rkeyInfo, error) {
	k, err := rkey.Parse(s)
	if err != nil {
		return rkeyInfo{}, err
	}
	return rkeyInfo{
		Key:     s,
		Micros:  k.Micros,
		Millis:  k.Millis(),
		Time:    time.UnixMicro(k.Micros).UTC(),
		ClockID: k.ClockID,
	}, nil
}

// cmdRkey needs no configuration, so it runs before the app is built.
func cmdRkey(args []string) int {
	flags := flag.NewFlagSet("rkey", flag.ContinueOnError)
	encode := flags.Int64("encode", -1, "encode this microsecond timestamp")
	clockID := flags.Uint64("clock", 0, "clock id for --encode")
	jsonOut := flags.Bool("json", false, "JSON output")
	key, rest := firstArg(args)
	if err := flags.Parse(rest); err != nil {
		return 1
	}

	if *encode >= 0 {
		key = rkey.New(*encode, *clockID)
	}
	if key == "" {
		fmt.Fprintln(os.Stderr, "usage: skylog rkey <key> | --encode <micros> [--clock N]")
		return 1
	}
	info, err := describeKey(key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "skylog: rkey: %v\n", err)
		return 1
	}
	if *jsonOut {
		printJSON(info)
		return 0
	}
	fmt.Printf("%s  ts=%d ms  clock=%d  %s\n", info.Key, info.Millis, info.ClockID, info.Time.Format(time.RFC3339Nano))
	return 0
}
