package log_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"zotregistry.dev/tagprune/pkg/log"
)

type logLine struct {
	Level     string `json:"level"`
	Module    string `json:"module"`
	Message   string `json:"message"`
	Goroutine int    `json:"goroutine"`
}

func TestLogger(t *testing.T) {
	Convey("Logger writes structured lines", t, func() {
		var buf bytes.Buffer

		logger, err := log.NewLoggerWithWriter("info", &buf)
		So(err, ShouldBeNil)

		logger.Info().Str("module", "retention").Msg("applied policy")
		logger.Debug().Msg("filtered out by level")

		var line logLine
		So(json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line), ShouldBeNil)
		So(line.Level, ShouldEqual, "info")
		So(line.Module, ShouldEqual, "retention")
		So(line.Message, ShouldEqual, "applied policy")
		So(line.Goroutine, ShouldBeGreaterThan, 0)
	})

	Convey("Bad level is an error", t, func() {
		_, err := log.NewLoggerWithWriter("loud", &bytes.Buffer{})
		So(err, ShouldNotBeNil)
	})

	Convey("Output file is created and appended", t, func() {
		output := path.Join(t.TempDir(), "tagprune.log")

		logger, err := log.NewLogger("debug", output)
		So(err, ShouldBeNil)

		logger.Warn().Msg("first")
		logger.Warn().Msg("second")

		content, err := os.ReadFile(output)
		So(err, ShouldBeNil)
		So(string(content), ShouldContainSubstring, "first")
		So(string(content), ShouldContainSubstring, "second")
	})

	Convey("Unwritable output is an error", t, func() {
		_, err := log.NewLogger("info", path.Join(t.TempDir(), "missing", "dir", "x.log"))
		So(err, ShouldNotBeNil)
	})

	Convey("Nop logger", t, func() {
		logger := log.NewNopLogger()
		logger.Error().Msg("nothing happens")
		So(log.GoroutineID(), ShouldBeGreaterThan, 0)
	})
}
