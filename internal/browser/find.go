package browser

// findByTextJS returns the first rendered interactive element whose visible
// label, trimmed, equals text exactly, or null. Rod retries while it returns
// null. Elements without layout boxes (display:none, hidden ancestors) or
// with visibility:hidden are skipped, since innerText falls back to
// textContent for them.
const findByTextJS = `(text) => {
	const candidates = document.querySelectorAll(
		'button, [role="button"], a, input[type="submit"], input[type="button"]'
	);
	for (const el of candidates) {
		if (!el.getClientRects().length) continue;
		if (el.checkVisibility && !el.checkVisibility({visibilityProperty: true, checkVisibilityCSS: true})) continue;
		const label = el.tagName === 'INPUT' ? el.value : el.innerText;
		if ((label || '').trim() === text) return el;
	}
	return null;
}`
