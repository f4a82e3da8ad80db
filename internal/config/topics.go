package config

// NSQ topics. The webhook endpoint acknowledges notifications immediately and
// hands the actual delta drain to a consumer on TopicSyncNotification.
const (
	TopicSyncNotification = "sync.notification"

	// Channel name shared by all docsync consumers of a topic.
	ChannelSync = "sync"
)
