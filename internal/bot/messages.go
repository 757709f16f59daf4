package bot

// =============================================================================
// General messages
// =============================================================================

const (
	MsgHelp = `
		Send me a photo of an outfit, or a link to an image, and I'll find where to buy the look.

		/page <url> loads a web page. Image links from that page then get a price badge.
		/reset forgets the page and the results found so far.
	`
	MsgSendImage      = "Send a photo or an image link to find offers."
	MsgUnknownCommand = "Unknown command. Try /help"
	MsgUnexpectedErr  = `Unexpected error: %s`
	MsgReset          = "Page and results cleared."
)

// =============================================================================
// Page messages
// =============================================================================

const (
	MsgPageUsage        = "Usage: /page <url>"
	MsgPagesUnavailable = "Loading pages is not available."
	MsgPageFetchFailed  = "Couldn't load that page."
	MsgPageParseFailed  = "Couldn't read that page."
	MsgPageLoaded       = "Page loaded with %d images. Send an image link from it to get offers."
)

// =============================================================================
// Overlay panel messages
// =============================================================================

const (
	MsgPanelTitle     = "*SherlockCombs*"
	MsgPanelStyle     = "Style: %s"
	MsgPanelBestPrice = "Best Price: %s"
	MsgPanelOffer     = "%d. %s · %s · %s"
	MsgPanelBest      = " (Best)"
	MsgBadge          = "💰 From %s for %s"
)

// =============================================================================
// Buttons and callback answers
// =============================================================================

const (
	BtnPin        = "📌 Pin"
	BtnUnpin      = "📌 Unpin"
	BtnClose      = "✖ Close"
	BtnShowOffers = "Show offers"

	MsgCallbackPinned    = "Pinned"
	MsgCallbackUnpinned  = "Unpinned"
	MsgCallbackPanelGone = "This panel is no longer shown."
	MsgCallbackNoBadge   = "These results are gone."
)
