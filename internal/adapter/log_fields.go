package adapter

import "go.uber.org/zap"

func zapPid(pid int) zap.Field        { return zap.Int("pid", pid) }
func zapCommand(cmd string) zap.Field { return zap.String("command", cmd) }
func zapLineNumber(n int) zap.Field   { return zap.Int("line_number", n) }
func zapErr(err error) zap.Field      { return zap.Error(err) }
func zapLine(line string) zap.Field  { return zap.String("line", line) }
func zapBool(k string, v bool) zap.Field { return zap.Bool(k, v) }
func zapInt(k string, v int) zap.Field   { return zap.Int(k, v) }
