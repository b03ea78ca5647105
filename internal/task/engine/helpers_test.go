package engine

import logx "remindbot/pkg/logx"

func logxNop() logx.Logger { return logx.Nop() }
