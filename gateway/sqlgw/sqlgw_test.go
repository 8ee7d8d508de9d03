package sqlgw

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/mbeoliero/orbit/gateway"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestClassify(t *testing.T) {
	t.Run("nil passes through", func(t *testing.T) {
		assert.NoError(t, classify(nil))
	})

	t.Run("duplicated key is a conflict", func(t *testing.T) {
		err := classify(fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey))
		assert.True(t, gateway.IsConflict(err))
		assert.False(t, gateway.IsTransient(err))
	})

	t.Run("connection failures are transient", func(t *testing.T) {
		cases := map[string]error{
			"deadline": context.DeadlineExceeded,
			"bad conn": driver.ErrBadConn,
			"refused": &net.OpError{
				Op: "dial", Net: "tcp",
				Err: syscall.ECONNREFUSED,
			},
			"reset": fmt.Errorf("exec: %w", &net.OpError{
				Op: "read", Net: "tcp",
				Err: syscall.ECONNRESET,
			}),
		}
		for name, cause := range cases {
			t.Run(name, func(t *testing.T) {
				err := classify(cause)
				assert.True(t, gateway.IsTransient(err))
				assert.True(t, errors.Is(err, cause))
			})
		}
	})

	t.Run("other errors stay permanent", func(t *testing.T) {
		cause := errors.New("syntax error")
		err := classify(cause)
		assert.Same(t, cause, err)
		assert.False(t, gateway.IsTransient(err))
		assert.False(t, gateway.IsConflict(err))
	})
}
