package config

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

const appName = "clausemap"

// LoggerConfig configures one log sink. Level is none, normal or debug;
// Mode is append or overwrite and only applies to files.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Destination string `mapstructure:"destination" yaml:"destination,omitempty"`
	Mode        string `mapstructure:"mode" yaml:"mode,omitempty"`
}

type LoggingConfig struct {
	Console LoggerConfig `mapstructure:"console" yaml:"console"`
	File    LoggerConfig `mapstructure:"file" yaml:"file"`
}

func (conf LoggingConfig) validate() error {
	var err error
	for name, lc := range map[string]LoggerConfig{"console": conf.Console, "file": conf.File} {
		switch lc.Level {
		case "", "none", "normal", "debug":
		default:
			err = multierr.Append(err, fmt.Errorf("logging.%s.level %q must be none, normal or debug", name, lc.Level))
		}
	}
	switch conf.File.Mode {
	case "", "append", "overwrite":
	default:
		err = multierr.Append(err, fmt.Errorf("logging.file.mode %q must be append or overwrite", conf.File.Mode))
	}
	if conf.File.Level != "" && conf.File.Level != "none" && conf.File.Destination == "" {
		err = multierr.Append(err, errors.New("logging.file.destination is required when file logging is enabled"))
	}
	return err
}

// EnableColorOutput reports whether stream is a terminal.
func EnableColorOutput(stream *os.File) bool {
	return term.IsTerminal(int(stream.Fd()))
}

// Prepare builds the program logger. Console output always goes to stderr
// so that command output on stdout stays machine readable.
func (conf *LoggingConfig) Prepare() (*zap.Logger, error) {
	ec := zap.NewDevelopmentEncoderConfig()
	ec.EncodeCaller = nil
	if EnableColorOutput(os.Stderr) {
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		ec.TimeKey = zapcore.OmitKey
	} else {
		ec.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	consoleCore := zapcore.NewNopCore()
	if level, ok := levelOf(conf.Console.Level); ok {
		consoleCore = zapcore.NewCore(consoleEncoder{zapcore.NewConsoleEncoder(ec)}, zapcore.Lock(os.Stderr), level)
	}

	fileCore := zapcore.NewNopCore()
	if level, ok := levelOf(conf.File.Level); ok {
		flags := os.O_CREATE | os.O_WRONLY
		if conf.File.Mode == "overwrite" {
			flags |= os.O_TRUNC
		} else {
			flags |= os.O_APPEND
		}
		f, err := os.OpenFile(conf.File.Destination, flags, 0o644)
		if err != nil {
			return nil, fmt.Errorf("unable to access file log destination (%s): %w", conf.File.Destination, err)
		}
		fileCore = zapcore.NewCore(zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()), zapcore.Lock(f), level)
	}

	return zap.New(zapcore.NewTee(consoleCore, fileCore), zap.AddCaller()).Named(appName), nil
}

func levelOf(name string) (zapcore.Level, bool) {
	switch name {
	case "normal":
		return zapcore.InfoLevel, true
	case "debug":
		return zapcore.DebugLevel, true
	}
	return zapcore.InfoLevel, false
}

// consoleEncoder prints errors without their verbose chain on the console.
type consoleEncoder struct {
	zapcore.Encoder
}

func (c consoleEncoder) Clone() zapcore.Encoder {
	return consoleEncoder{c.Encoder.Clone()}
}

func (c consoleEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	out := make([]zapcore.Field, 0, len(fields))
	for _, f := range fields {
		if f.Type == zapcore.ErrorType {
			if e, ok := f.Interface.(error); ok {
				f.Interface = errors.New(e.Error())
			}
		}
		out = append(out, f)
	}
	return c.Encoder.EncodeEntry(ent, out)
}
