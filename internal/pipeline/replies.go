package pipeline

import (
	"fmt"

	"permatweet/internal/quota"
)

func successReply(url string) string {
	return fmt.Sprintf("Archived forever: %s", url)
}

func quotaReply(d quota.Decision) string {
	return fmt.Sprintf("Sorry, you've hit your archive limit (%s). Daily remaining: %d, monthly remaining: %d.",
		d.Reason, d.DailyRemaining, d.MonthlyRemaining)
}

func errorReply() string {
	return "Sorry, something went wrong archiving that tweet. We'll keep trying."
}
