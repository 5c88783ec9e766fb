//go:build test

package gatt_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/srg/gattsync/gatt"
	"github.com/srg/gattsync/internal/testutils"
)

type RouterTestSuite struct {
	suite.Suite

	Helper *testutils.TestHelper
	Router *gatt.EventRouter
}

func (suite *RouterTestSuite) SetupSuite() {
	suite.Helper = testutils.NewTestHelper(suite.T())
}

func (suite *RouterTestSuite) SetupTest() {
	suite.Router = gatt.NewEventRouter(&gatt.Options{Logger: suite.Helper.Logger})
}

func (suite *RouterTestSuite) SetupSubTest() {
	suite.SetupTest()
}

// receive reads one value from ch or fails the test after a timeout.
func receive[T any](suite *RouterTestSuite, ch <-chan T) T {
	select {
	case v := <-ch:
		return v
	case <-time.After(time.Second):
		suite.FailNow("MUST receive a value before the timeout")
		panic("unreachable")
	}
}

func (suite *RouterTestSuite) TestResponseClassification() {
	// GOAL: Verify each raw callback is classified into a typed response with
	// its payload intact
	//
	// TEST SCENARIO: Fire each callback kind → one response per callback
	// arrives on the handoff channel carrying the matching kind and payload

	ref := gatt.NewCharacteristicRef("180F", "2A19")
	descRef := gatt.NewDescriptorRef("180D", "2A37", "2902")

	suite.Run("services discovered", func() {
		go suite.Router.OnServicesDiscovered(gatt.StatusSuccess)

		ev := receive(suite, suite.Router.Responses())
		suite.Assert().Equal(gatt.OpDiscoverServices, ev.Kind, "kind MUST be discover_services")
		suite.Assert().True(ev.Status.OK(), "status MUST be success")
	})

	suite.Run("characteristic read", func() {
		go suite.Router.OnCharacteristicRead(ref, []byte{1, 2, 3}, gatt.StatusSuccess)

		ev := receive(suite, suite.Router.Responses())
		suite.Assert().Equal(gatt.OpReadCharacteristic, ev.Kind, "kind MUST be read_characteristic")
		suite.Assert().Equal(ref, ev.Characteristic, "response MUST carry the characteristic identity")
		suite.Assert().Equal([]byte{1, 2, 3}, ev.Value, "response MUST carry the payload")
	})

	suite.Run("characteristic write", func() {
		go suite.Router.OnCharacteristicWrite(ref, gatt.StatusFailure)

		ev := receive(suite, suite.Router.Responses())
		suite.Assert().Equal(gatt.OpWriteCharacteristic, ev.Kind, "kind MUST be write_characteristic")
		suite.Assert().Equal(gatt.StatusFailure, ev.Status, "response MUST carry the reported status")
	})

	suite.Run("descriptor write", func() {
		go suite.Router.OnDescriptorWrite(descRef, gatt.StatusSuccess)

		ev := receive(suite, suite.Router.Responses())
		suite.Assert().Equal(gatt.OpWriteDescriptor, ev.Kind, "kind MUST be write_descriptor")
		suite.Assert().Equal(descRef, ev.Descriptor, "response MUST carry the descriptor identity")
	})

	suite.Run("remote rssi", func() {
		go suite.Router.OnReadRemoteRSSI(-70, gatt.StatusSuccess)

		ev := receive(suite, suite.Router.Responses())
		suite.Assert().Equal(gatt.OpReadRSSI, ev.Kind, "kind MUST be read_rssi")
		suite.Assert().Equal(-70, ev.RSSI, "response MUST carry the rssi reading")
	})
}

func (suite *RouterTestSuite) TestHandoffBackPressure() {
	// GOAL: Verify the single-slot handoff applies back-pressure instead of
	// dropping or reordering completions
	//
	// TEST SCENARIO: Two callbacks fired back to back from one goroutine →
	// second publish blocks until the first response is consumed → both arrive
	// in order

	published := make(chan gatt.OpKind, 2)
	go func() {
		suite.Router.OnServicesDiscovered(gatt.StatusSuccess)
		published <- gatt.OpDiscoverServices
		suite.Router.OnReadRemoteRSSI(-50, gatt.StatusSuccess)
		published <- gatt.OpReadRSSI
	}()

	// First publish lands in the empty slot; the second blocks on it.
	receive(suite, published)
	select {
	case <-published:
		suite.FailNow("second publish MUST block while the first response is unconsumed")
	case <-time.After(20 * time.Millisecond):
	}

	first := receive(suite, suite.Router.Responses())
	suite.Assert().Equal(gatt.OpDiscoverServices, first.Kind, "first response MUST arrive first")

	second := receive(suite, suite.Router.Responses())
	suite.Assert().Equal(gatt.OpReadRSSI, second.Kind, "second response MUST arrive after the first is consumed")
	receive(suite, published)
}

func (suite *RouterTestSuite) TestNextResponse() {
	// GOAL: Verify the context-aware receive helper resolves with either a
	// response or the context error
	//
	// TEST SCENARIO: Response published → NextResponse returns it; context
	// cancelled while empty → NextResponse returns the context error

	suite.Run("delivers the published response", func() {
		go suite.Router.OnServicesDiscovered(gatt.StatusSuccess)

		ev, err := suite.Router.NextResponse(context.Background())
		suite.Assert().NoError(err, "receive MUST succeed")
		suite.Assert().Equal(gatt.OpDiscoverServices, ev.Kind, "response MUST be the published one")
	})

	suite.Run("propagates cancellation", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := suite.Router.NextResponse(ctx)
		suite.Assert().ErrorIs(err, context.Canceled, "receive MUST surface the context error")
	})
}

func (suite *RouterTestSuite) TestStateBroadcast() {
	// GOAL: Verify connection-state transitions fan out to every subscriber
	// independently of the response handoff
	//
	// TEST SCENARIO: Two subscribers → one transition published → both receive
	// it; unsubscribing one leaves the other receiving

	suite.Run("fan-out to all subscribers", func() {
		aCh, aCancel := suite.Router.ConnectionStates()
		defer aCancel()
		bCh, bCancel := suite.Router.ConnectionStates()
		defer bCancel()

		suite.Router.OnConnectionStateChange(gatt.StateConnected, gatt.StatusSuccess)

		a := receive(suite, aCh)
		b := receive(suite, bCh)
		suite.Assert().Equal(gatt.StateConnected, a.State, "first subscriber MUST receive the transition")
		suite.Assert().Equal(gatt.StateConnected, b.State, "second subscriber MUST receive the transition")
	})

	suite.Run("late subscriber is seeded with the latest state", func() {
		suite.Router.OnConnectionStateChange(gatt.StateConnected, gatt.StatusSuccess)
		suite.Router.OnConnectionStateChange(gatt.StateDisconnecting, gatt.StatusSuccess)

		ch, cancel := suite.Router.ConnectionStates()
		defer cancel()

		seeded := receive(suite, ch)
		suite.Assert().Equal(gatt.StateDisconnecting, seeded.State, "subscriber MUST be seeded with the most recent transition")

		last, ok := suite.Router.LastState()
		suite.Require().True(ok, "latest state MUST be recorded")
		suite.Assert().Equal(gatt.StateDisconnecting, last.State, "LastState MUST match the seeded value")
	})

	suite.Run("slow subscriber is conflated to the newest transitions", func() {
		router := gatt.NewEventRouter(&gatt.Options{
			StateFeedCapacity: 1,
			Logger:            suite.Helper.Logger,
		})
		ch, cancel := router.ConnectionStates()
		defer cancel()

		router.OnConnectionStateChange(gatt.StateConnecting, gatt.StatusSuccess)
		router.OnConnectionStateChange(gatt.StateConnected, gatt.StatusSuccess)
		router.OnConnectionStateChange(gatt.StateDisconnected, gatt.StatusFailure)

		got := receive(suite, ch)
		suite.Assert().Equal(gatt.StateDisconnected, got.State, "a slow subscriber MUST observe the newest transition, older ones are dropped")
	})

	suite.Run("unsubscribe closes only that subscriber", func() {
		aCh, aCancel := suite.Router.ConnectionStates()
		bCh, bCancel := suite.Router.ConnectionStates()
		defer bCancel()

		aCancel()
		suite.Require().Eventually(func() bool {
			_, ok := <-aCh
			return !ok
		}, time.Second, time.Millisecond, "cancelled subscription channel MUST be closed")

		suite.Router.OnConnectionStateChange(gatt.StateDisconnected, gatt.StatusSuccess)
		got := receive(suite, bCh)
		suite.Assert().Equal(gatt.StateDisconnected, got.State, "remaining subscriber MUST keep receiving")
	})
}

func (suite *RouterTestSuite) TestStrayTrace() {
	// GOAL: Verify discarded responses stay observable through the bounded
	// stray trace
	//
	// TEST SCENARIO: Two responses discarded → StrayEvents returns both oldest
	// first and drains the trace

	suite.Router.Discard(gatt.Response{Kind: gatt.OpReadCharacteristic}, "late response")
	suite.Router.Discard(gatt.Response{Kind: gatt.OpWriteCharacteristic}, "kind mismatch")

	stray := suite.Router.StrayEvents()
	suite.Require().Len(stray, 2, "both discarded responses MUST be recorded")
	suite.Assert().Equal(gatt.OpReadCharacteristic, stray[0].Kind, "trace MUST be ordered oldest first")
	suite.Assert().Equal(gatt.OpWriteCharacteristic, stray[1].Kind, "trace MUST be ordered oldest first")

	suite.Assert().Empty(suite.Router.StrayEvents(), "draining MUST leave the trace empty")
}

// TestRouterTestSuite runs the test suite
func TestRouterTestSuite(t *testing.T) {
	suite.Run(t, new(RouterTestSuite))
}
