//go:build test

package testutils

import (
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/srg/gattsync/gatt"
)

// GattSuite is a reusable testify suite wiring a fake driver, an event
// router, and a coordinator together.
//
// Basic usage (default driver: every request completes successfully):
//
//	type SimpleSuite struct {
//	    testutils.GattSuite
//	}
//
//	func TestSimpleSuite(t *testing.T) {
//	    suite.Run(t, new(SimpleSuite))
//	}
//
// Custom driver script usage:
//
//	func (s *MySuite) SetupTest() {
//	    s.WithDriver().
//	        WithCompletion(gatt.OpReadCharacteristic, testutils.Completion{Value: []byte{80}})
//	    s.GattSuite.SetupTest() // call parent last to apply the configuration
//	}
type GattSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	DriverBuilder *FakeDriverBuilder
	Driver        *FakeDriver
	Router        *gatt.EventRouter
	Coordinator   *gatt.Coordinator
}

// SetupSuite initializes shared helpers once per suite.
func (s *GattSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
}

// SetupTest builds the driver/router/coordinator stack from the configured
// builder (or a default one). Suites overriding SetupTest configure the
// builder first and call this last.
func (s *GattSuite) SetupTest() {
	if s.DriverBuilder == nil {
		s.DriverBuilder = NewFakeDriverBuilder()
	}

	s.Driver = s.DriverBuilder.Build(s.Logger)
	s.Router = gatt.NewEventRouter(&gatt.Options{Logger: s.Logger})
	s.Driver.Bind(s.Router)
	s.Coordinator = gatt.NewCoordinator(s.Driver, s.Router, &gatt.Options{Logger: s.Logger})

	s.Logger.Debug("Test setup completed - coordinator stack ready")
}

// SetupSubTest rebuilds a default stack for each subtest so scripts configured
// by one subtest never leak into the next. Subtests needing a custom script
// configure WithDriver() and call SetupTest again themselves.
func (s *GattSuite) SetupSubTest() {
	s.DriverBuilder = nil
	s.SetupTest()
}

// TearDownSubTest drains callback goroutines started within the subtest.
func (s *GattSuite) TearDownSubTest() {
	if s.Driver != nil {
		s.Driver.WaitCallbacks()
	}
}

// TearDownTest waits for stray callback goroutines and resets the builder so
// the next test starts from a clean script.
func (s *GattSuite) TearDownTest() {
	if s.Driver != nil {
		s.Driver.WaitCallbacks()
	}

	s.DriverBuilder = nil
	s.Driver = nil
	s.Router = nil
	s.Coordinator = nil
}

// WithDriver returns the driver builder for fluent configuration.
func (s *GattSuite) WithDriver() *FakeDriverBuilder {
	if s.DriverBuilder == nil {
		s.DriverBuilder = NewFakeDriverBuilder()
	}
	return s.DriverBuilder
}
