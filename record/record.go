package record

import (
	"time"

	"github.com/hugolhafner/smartcity/kafka"
)

// Record is a decoded inbound event annotated with its position in the source
// partition and its lateness relative to the chain's watermark.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte

	EventTime time.Time
	Fields    map[string]any

	Late      bool
	Watermark time.Time
}

func (r Record) TopicPartition() kafka.TopicPartition {
	return kafka.TopicPartition{Topic: r.Topic, Partition: r.Partition}
}

// Metadata column names added to every stored document
const (
	ColPartition = "_partition"
	ColOffset    = "_offset"
	ColLate      = "_late"
)

// Document returns the stored form: the decoded fields plus partition, offset
// and lateness columns. Fields is not modified.
func (r Record) Document() map[string]any {
	doc := make(map[string]any, len(r.Fields)+3)
	for k, v := range r.Fields {
		doc[k] = v
	}
	doc[ColPartition] = r.Partition
	doc[ColOffset] = r.Offset
	doc[ColLate] = r.Late
	return doc
}

// Batch is an ordered run of records along with the offsets to commit with it.
// Offsets may cover records that were dropped and so are not in Records.
type Batch struct {
	Topic   string
	Records []Record
	// Offsets maps partition to the next offset to read once this batch is durable
	Offsets map[int32]int64
	// MaxEventTime is the chain's watermark source after this batch
	MaxEventTime time.Time
}

// Empty reports whether the batch would change neither output nor offsets
func (b Batch) Empty() bool {
	return len(b.Records) == 0 && len(b.Offsets) == 0
}
