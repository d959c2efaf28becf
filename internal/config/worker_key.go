package config

type WorkerKeyStruct struct {
	PersistReceiptsQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistReceiptsQueue: "persist_receipts_queue",
}
