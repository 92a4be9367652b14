package bot

const (
	msgMenu = "What would you like to do?\n\n" +
		"/daily — daily check-in\n" +
		"/weekly — weekly assessment\n" +
		"/notify on|off — reminders\n" +
		"/cancel — abandon the current form\n" +
		"/help — all commands"

	msgWelcomeBack = "Welcome back! " + msgMenu

	msgHelp = "Commands:\n" +
		"/start — begin or show the menu\n" +
		"/daily — daily check-in\n" +
		"/weekly — weekly assessment\n" +
		"/cancel — abandon the current form\n" +
		"/notify on|off — toggle reminders\n" +
		"/delete confirm — erase your account and data"

	msgRateLimited = "⚠️ You're sending messages too quickly. Please wait a moment."

	msgAlreadyActive = "You already have a form in progress. Finish it first, or send /cancel to abandon it."

	msgNoSession = "There is no form in progress. Send /daily or /weekly to start one."

	msgCancelled = "Okay, I've discarded that form. Nothing was saved."

	msgNothingToCancel = "There is nothing to cancel."

	msgExpired = "⏰ Your session timed out due to inactivity. Please start over with /start."

	msgPersistFailed = "Your answer was recorded but saving the completed form failed. " +
		"Please send your last answer again in a moment."

	msgOnboardingDone = "🎉 All set! Your profile is complete.\n\n" + msgMenu

	msgDeleted = "Your account and all stored data have been deleted. Send /start to begin again."

	msgDeleteConfirm = "This permanently erases your account and every answer you've given. " +
		"Send \"/delete confirm\" if you are sure."

	msgNotifyOn  = "🔔 Reminders enabled."
	msgNotifyOff = "🔕 Reminders disabled."
)
