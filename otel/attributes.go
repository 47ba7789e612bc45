package otel

import (
	"go.opentelemetry.io/otel/attribute"
)

const (
	AttrMessagingSystem      = attribute.Key("messaging.system")
	AttrMessagingDestination = attribute.Key("messaging.destination.name")
	AttrMessagingOperation   = attribute.Key("messaging.operation.type")
	AttrMessageKey           = attribute.Key("messaging.kafka.message.key")
	AttrPartition            = attribute.Key("messaging.kafka.destination.partition")
	AttrOffset               = attribute.Key("messaging.kafka.message.offset")
	AttrBodySize             = attribute.Key("messaging.message.body.size")

	AttrEventKind   = attribute.Key("smartcity.event.kind")
	AttrBatchSize   = attribute.Key("smartcity.sink.batch_size")
	AttrDecodeState = attribute.Key("smartcity.ingest.decode_status")
	AttrLate        = attribute.Key("smartcity.ingest.late")
)

const systemKafka = "kafka"

// Operation values
const (
	OperationPublish = "publish"
	OperationProcess = "process"
	OperationCommit  = "commit"
)

// Decode status values
const (
	StatusSuccess = "success"
	StatusDropped = "dropped"
	StatusDLQ     = "dlq"
	StatusFailed  = "failed"
)
