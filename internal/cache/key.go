package cache

import "fmt"

// Key derives the cache key for one embed instance. It is stable for the life
// of the embed: the same bot, visitor, and widget instance always map to the
// same record.
func Key(botID, userID, widgetInstanceID string) string {
	return fmt.Sprintf("conv:%s:%s:%s", botID, userID, widgetInstanceID)
}
