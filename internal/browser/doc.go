// Package browser provides the browser automation layer used to drive
// Google Meet. The Driver interface is the narrow surface the session
// controller depends on; ChromeDriver is the chromedp-backed
// implementation. Locators address page controls by stable attributes
// (ARIA roles, labels, visible text), never by generated class names,
// because Meet's class names change between deployments.
package browser
