// Package glogadapter adapts github.com/aristanetworks/glog to the
// logger.Logger interface, the same split the teacher uses between its
// logger and glog packages so that the bulk of the code depends only
// on the interface.
package glogadapter

import (
	"github.com/aristanetworks/glog"

	"github.com/opencluster/opencluster/internal/logger"
)

// Glog adapts glog to logger.Logger. The zero value logs at V(0).
type Glog struct {
	InfoLevel glog.Level
}

var _ logger.Logger = (*Glog)(nil)

// Info logs at the info level.
func (g *Glog) Info(args ...interface{}) {
	glog.V(g.InfoLevel).Info(args...)
}

// Infof logs at the info level, with format.
func (g *Glog) Infof(format string, args ...interface{}) {
	glog.V(g.InfoLevel).Infof(format, args...)
}

// Error logs at the error level.
func (g *Glog) Error(args ...interface{}) {
	glog.Error(args...)
}

// Errorf logs at the error level, with format.
func (g *Glog) Errorf(format string, args ...interface{}) {
	glog.Errorf(format, args...)
}

// Fatal logs at the fatal level and exits.
func (g *Glog) Fatal(args ...interface{}) {
	glog.Fatal(args...)
}

// Fatalf logs at the fatal level, with format, and exits.
func (g *Glog) Fatalf(format string, args ...interface{}) {
	glog.Fatalf(format, args...)
}
