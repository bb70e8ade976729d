package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLoggerInit(t *testing.T) {
	Convey("Given the global logger", t, func() {
		Convey("When initialized with defaults", func() {
			So(Init(), ShouldBeNil)

			Convey("Then Get returns a usable logger", func() {
				So(Get(), ShouldNotBeNil)
				So(func() { Get().Info(context.Background(), "test message", String("k", "v")) }, ShouldNotPanic)
			})
		})

		Convey("When initialized with an unknown format", func() {
			err := InitWithWriter(&bytes.Buffer{}, "xml")

			Convey("Then it fails", func() {
				So(err, ShouldNotBeNil)
			})
		})

		Convey("When initialized without a writer", func() {
			So(InitWithWriter(nil, "text"), ShouldNotBeNil)
		})
	})
}

func TestLoggerJSONOutput(t *testing.T) {
	Convey("Given a JSON logger on a buffer", t, func() {
		var buf bytes.Buffer
		So(InitWithWriter(&buf, "json"), ShouldBeNil)
		So(SetLevelString("info"), ShouldBeNil)

		Convey("When logging through a named logger with fields", func() {
			Named("store").With(String("backend", "memory")).Warn(context.Background(), "conflict",
				Int("attempt", 2), Error(errors.New("boom")))

			Convey("Then the record carries component, fields and source", func() {
				var rec map[string]any
				So(json.Unmarshal(buf.Bytes(), &rec), ShouldBeNil)
				So(rec["msg"], ShouldEqual, "conflict")
				So(rec["component"], ShouldEqual, "store")
				So(rec["backend"], ShouldEqual, "memory")
				So(rec["attempt"], ShouldEqual, float64(2))
				So(rec["source"], ShouldContainSubstring, "logger_test.go")
			})
		})

		Convey("When logging below the configured level", func() {
			So(SetLevelString("error"), ShouldBeNil)
			Get().Debug(context.Background(), "hidden")

			Convey("Then nothing is written", func() {
				So(buf.Len(), ShouldEqual, 0)
			})
		})
	})
}

func TestSetLevelString(t *testing.T) {
	Convey("Given level names", t, func() {
		for _, lvl := range []string{"debug", "INFO", "warn", "warning", "error", ""} {
			So(SetLevelString(lvl), ShouldBeNil)
		}
		So(SetLevelString("verbose"), ShouldNotBeNil)
	})
}

func TestNop(t *testing.T) {
	Convey("Given the nop logger", t, func() {
		l := Nop().Named("x").With(String("k", "v"))

		Convey("Then logging is safe", func() {
			So(func() { l.Error(context.Background(), "dropped", Error(errors.New("e"))) }, ShouldNotPanic)
		})
	})
}
