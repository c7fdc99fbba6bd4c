package bot

import (
	"fmt"
	"strings"
	"time"

	"modbot/internal/broadcast"
	"modbot/internal/moderation"
)

const notAuthorizedText = "❌ You are not authorized to use this command."

const helpText = `🤖 Available Commands:

For Everyone:
/start - Start the bot
/help - Show this help message

For Admins:
/broadcast - Start broadcast message collection
/send_broadcast - Send collected broadcast
/cancel_broadcast - Cancel broadcast
/stats - Show bot statistics

📝 Note: Make sure I have admin permissions in your groups/channels for the auto-ban feature to work properly.`

const composeInstructions = `📢 Broadcast Mode Started!

Now you can send me the messages you want to broadcast. I support:
• Text messages
• Photos with captions
• Videos with captions
• Documents with captions
• Stickers

Send your messages one by one. When you're done, use:
• /send_broadcast - To send all collected messages
• /cancel_broadcast - To cancel and clear all messages

Currently collected: 0 messages`

const unsupportedText = "❌ Unsupported message type. Please send text, photo, video, document, or sticker."

func welcomeText(name string, window time.Duration) string {
	return fmt.Sprintf(`👋 Hello %s!

I'm a moderation bot that:
• 🚫 Bans users who leave within %s of joining
• 📢 Supports broadcast messages

Add me to your group/channel and make me admin to start moderating!

Use /help to see all commands.`, name, formatWindow(window))
}

func statsText(tracked, activeChats, composing int, window time.Duration, admins int) string {
	return fmt.Sprintf(`📊 Bot Statistics:

• 👥 Tracked users: %d
• 💬 Active chats: %d
• 📢 Active broadcasts: %d
• 🚫 Ban window: %s
• 👑 Admins: %d`, tracked, activeChats, composing, formatWindow(window), admins)
}

func collectedText(it broadcast.Item, total int) string {
	return fmt.Sprintf(`✅ %s

📊 Total collected: %d message(s)

Send more messages or:
• /send_broadcast - To send to all chats
• /cancel_broadcast - To cancel`, it.Preview(), total)
}

func cancelledText(discarded int) string {
	return fmt.Sprintf("❌ Broadcast cancelled.\n🗑️ %d message(s) were not sent.", discarded)
}

func reportText(rep broadcast.Report) string {
	return fmt.Sprintf(`📊 Broadcast Completed!

✅ Successful: %d chats
❌ Failed: %d chats
📝 Messages sent: %d per chat
📨 Total deliveries: %d
⏱️ Took: %s`,
		rep.Succeeded, rep.Failed, rep.ItemsPerChat, rep.TotalDeliveries,
		rep.Duration.Round(time.Millisecond))
}

func bannedText(out moderation.LeaveOutcome, window time.Duration) string {
	return fmt.Sprintf(`🚫 User Banned

• User: @%s
• Joined: %s
• Time in chat: %s
• Reason: Left within %s of joining`,
		out.UserName,
		out.JoinTime.Format("2006-01-02 15:04:05"),
		out.Elapsed.Round(time.Second),
		formatWindow(window))
}

func banFailedText(userName string) string {
	return fmt.Sprintf("❌ Could not ban user @%s. Make sure I have admin permissions.", userName)
}

func formatWindow(w time.Duration) string {
	if w%time.Hour == 0 {
		h := int(w / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	}
	s := w.String()
	if w >= time.Minute && strings.HasSuffix(s, "m0s") {
		s = strings.TrimSuffix(s, "0s")
	}
	return s
}
