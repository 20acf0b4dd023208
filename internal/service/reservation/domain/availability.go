package domain

import "time"

// Availability 是某一时刻容量记录的只读快照，用于展示，不参与扣减判断。
type Availability struct {
	ResourceID     string         `json:"resourceId"`
	Status         ResourceStatus `json:"status"`
	TotalCapacity  int64          `json:"totalCapacity"`
	AvailableCount int64          `json:"availableCount"`
	ConfirmedCount int64          `json:"confirmedCount"`
	Revision       int64          `json:"revision"`
	AsOf           time.Time      `json:"asOf"`
}

// SnapshotOf 从容量记录生成快照。
func SnapshotOf(c *Capacity, asOf time.Time) *Availability {
	return &Availability{
		ResourceID:     c.ID,
		Status:         c.Status,
		TotalCapacity:  c.TotalCapacity,
		AvailableCount: c.AvailableCount,
		ConfirmedCount: c.ConfirmedCount(),
		Revision:       c.Revision,
		AsOf:           asOf,
	}
}
