package cli

import (
	"fmt"
	"time"

	"github.com/roach88/coldline/internal/record"
)

const timeFormat = time.RFC3339

func formatCursor(c record.Cursor) string {
	return fmt.Sprintf("%s/%s@%s", c.PartitionKey, c.ID, c.Timestamp.UTC().Format(timeFormat))
}
