package tool

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

func GenerateUUIDV7() string {
	return uuid.Must(uuid.NewV7()).String()
}

// accessTokenBytes gives 256 bits of entropy for client-view links.
const accessTokenBytes = 32

// GenerateAccessToken returns an opaque, URL-safe token unrelated to any
// internal identifier.
func GenerateAccessToken() (string, error) {
	b := make([]byte, accessTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate access token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

var (
	receiptNodeMu sync.Mutex
	receiptNode   *snowflake.Node
)

// InitReceiptNode configures the snowflake node used for receipt numbers.
// Instances sharing a database must use distinct node ids.
func InitReceiptNode(nodeID int64) error {
	n, err := snowflake.NewNode(nodeID)
	if err != nil {
		return fmt.Errorf("init receipt node: %w", err)
	}
	receiptNodeMu.Lock()
	receiptNode = n
	receiptNodeMu.Unlock()
	return nil
}

// GenerateReceiptNumber returns a sortable, human-quotable receipt number.
func GenerateReceiptNumber() string {
	receiptNodeMu.Lock()
	if receiptNode == nil {
		receiptNode, _ = snowflake.NewNode(0)
	}
	n := receiptNode
	receiptNodeMu.Unlock()
	return "RCPT-" + n.Generate().Base36()
}
