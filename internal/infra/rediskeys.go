package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "voiceai"
)

// Ключи кэша грантов (L2)
const (
	RedisKeyGrantPrefix = RedisNamespace + ":grants:"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanGrantInvalidate несет в payload user_id пользователя, чьи гранты изменились.
	RedisChanGrantInvalidate = RedisNamespace + ":grants:invalidate"
)

// GrantCacheKey Генератор ключей кэша грантов ("grant:<user>" / "target:<user>")
func GrantCacheKey(key string) string {
	return RedisKeyGrantPrefix + key
}
