package domain

import (
	"crypto/sha256"
	"encoding/base32"
	"fmt"
)

var ticketEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// TicketCode 由资源 ID 的摘要和扣减成功后的版本号生成票号。
// 每次成功的条件扣减都独占一个版本号，所以同一资源下票号不会重复。
func TicketCode(resourceID string, revision int64) string {
	sum := sha256.Sum256([]byte(resourceID))
	return fmt.Sprintf("TKT-%s-%08d", ticketEncoding.EncodeToString(sum[:])[:8], revision)
}
