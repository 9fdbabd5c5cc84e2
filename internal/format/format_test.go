package format

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"offerwatch/internal/model"
)

func TestAge(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{59 * time.Second, "59s"},
		{60 * time.Second, "1m"},
		{90 * time.Minute, "1h"},
		{3600 * time.Second, "1h"},
		{86400 * time.Second, "1d"},
		{-5 * time.Second, "0s"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Age(tc.in), "age of %s", tc.in)
	}
}

func TestRange(t *testing.T) {
	assert.Equal(t, "0.0002", Range(model.Range{Low: 0.0002, High: 0.0002}, BTC))
	assert.Equal(t, "0.0002 - 0.003", Range(model.Range{Low: 0.0002, High: 0.003}, BTC))
}

func TestMoney(t *testing.T) {
	assert.Equal(t, "103.00", Money(103))
	assert.Equal(t, "1,234.50", Money(1234.5))
	assert.Equal(t, "9.99 USD", MoneyWithCurrency(9.99, "usd"))
}

func TestBTCAndPercent(t *testing.T) {
	assert.Equal(t, "0.0003", BTC(0.0001+0.0002))
	assert.Equal(t, "1.5", BTC(1.5))
	assert.Equal(t, "-3.00%", Percent(-3))
}
