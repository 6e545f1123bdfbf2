package cronsql

import logx "cronsql/pkg/logx"

// Depths of the nested log units.
const (
	depthCycle = 0
	depthTier  = 1
	depthFile  = 2
)

// unitLog writes the two kinds of task log entries: start/finish of a unit
// (cycle, tier, file) and plain messages, each tagged with its nesting depth.
type unitLog struct {
	log logx.Logger
}

func (u unitLog) start(depth int, msg string, fields ...logx.Field) {
	u.log.Info(msg, u.fields(depth, "start", fields)...)
}

func (u unitLog) finish(depth int, msg string, fields ...logx.Field) {
	u.log.Info(msg, u.fields(depth, "finish", fields)...)
}

func (u unitLog) debug(depth int, msg string, fields ...logx.Field) {
	u.log.Debug(msg, u.fields(depth, "", fields)...)
}

func (u unitLog) info(depth int, msg string, fields ...logx.Field) {
	u.log.Info(msg, u.fields(depth, "", fields)...)
}

func (u unitLog) warn(depth int, msg string, fields ...logx.Field) {
	u.log.Warn(msg, u.fields(depth, "", fields)...)
}

func (u unitLog) error(depth int, msg string, fields ...logx.Field) {
	u.log.Error(msg, u.fields(depth, "", fields)...)
}

func (u unitLog) fields(depth int, phase string, extra []logx.Field) []logx.Field {
	out := make([]logx.Field, 0, len(extra)+2)
	out = append(out, logx.Int("depth", depth))
	if phase != "" {
		out = append(out, logx.String("unit", phase))
	}
	return append(out, extra...)
}
