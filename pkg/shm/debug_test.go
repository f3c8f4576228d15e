package shm

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"
)

type DebugTestSuite struct {
	suite.Suite
}

func TestDebugTestSuite(t *testing.T) {
	suite.Run(t, new(DebugTestSuite))
}

func (s *DebugTestSuite) TestLogColor() {
	SetLogLevel(levelTrace)
	defer SetLogLevel(levelWarn)

	internalLogger.tracef("this is tracef %s", "hello world")
	internalLogger.debugf("this is debugf %s", "hello world")
	internalLogger.infof("this is infof %s", "hello world")
	internalLogger.warnf("this is warnf %s", "hello world")
	internalLogger.errorf("this is errorf %s", "hello world")
}

func (s *DebugTestSuite) TestLevelFiltersAndLocation() {
	var out bytes.Buffer
	l := newLogger("cam0/reader", &out)

	SetLogLevel(levelWarn)
	l.infof("hidden %d", 1)
	s.Require().Zero(out.Len())

	l.warnf("shown %d", 2)
	line := out.String()
	s.Require().True(strings.HasPrefix(line, yellow+"Warn "))
	s.Require().Contains(line, "debug_test.go:")
	s.Require().Contains(line, "cam0/reader shown 2")

	SetLogLevel(99)
	s.Require().Equal(int32(levelWarn), level.Load())
}

func (s *DebugTestSuite) TestPlatformWarningsReportCallSite() {
	var out bytes.Buffer
	saved := internalLogger.out
	internalLogger.out = &out
	defer func() { internalLogger.out = saved }()
	SetLogLevel(levelWarn)

	platformWarnf("disk usage unavailable: %s", "test")
	line := out.String()
	s.Require().Contains(line, "debug_test.go:")
	s.Require().NotContains(line, "autogenerated")
	s.Require().Contains(line, "zerobuffer disk usage unavailable: test")
}
