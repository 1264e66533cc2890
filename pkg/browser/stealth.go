package browser

// stealthJS is injected on every new document to soften the most common
// headless-Chrome fingerprints: the webdriver flag, the empty plugins array,
// missing languages, and the SwiftShader WebGL vendor string.
const stealthJS = `(() => {
	Object.defineProperty(navigator, 'webdriver', { get: () => false });

	Object.defineProperty(navigator, 'plugins', {
		get: () => [1, 2, 3, 4, 5],
	});

	Object.defineProperty(navigator, 'languages', {
		get: () => ['en-US', 'en'],
	});

	const getParameter = WebGLRenderingContext.prototype.getParameter;
	WebGLRenderingContext.prototype.getParameter = function (parameter) {
		// UNMASKED_VENDOR_WEBGL
		if (parameter === 37445) return 'Intel Inc.';
		// UNMASKED_RENDERER_WEBGL
		if (parameter === 37446) return 'Intel Iris OpenGL Engine';
		return getParameter.call(this, parameter);
	};

	window.chrome = window.chrome || { runtime: {} };
})();`
