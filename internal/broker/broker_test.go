// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package broker

import (
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"
)

func TestClassifyForcesMaxRetries(t *testing.T) {
	msg := amqp.Delivery{Headers: amqp.Table{deliveryCountHeader: int64(10)}}
	d := classify(msg, 10)
	require.Equal(t, "Max retries", d.Forced)
}

func TestClassifyForcesTimeOut(t *testing.T) {
	msg := amqp.Delivery{Headers: amqp.Table{expirationHeader: time.Now().Add(-time.Minute).Unix()}}
	d := classify(msg, 10)
	require.Equal(t, "Time out", d.Forced)
}

func TestClassifyNormalDeliveryIsNotForced(t *testing.T) {
	exp := time.Now().Add(time.Hour)
	msg := amqp.Delivery{Headers: amqp.Table{expirationHeader: exp.Unix()}}
	d := classify(msg, 10)
	require.Empty(t, d.Forced)
	require.WithinDuration(t, exp, d.ExpiresAt, time.Second)
	require.Greater(t, d.RemainingTTL(), time.Duration(0))
}

func TestRequestQueueNamePerType(t *testing.T) {
	require.Equal(t, "work.requests.zip", RequestQueueName("zip"))
}
