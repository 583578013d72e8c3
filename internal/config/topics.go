package config

const (
	// TopicIndex carries indexing runs submitted asynchronously.
	TopicIndex = "index.batch"

	// ChannelIndexer is the consumer channel for TopicIndex.
	ChannelIndexer = "indexer"
)
