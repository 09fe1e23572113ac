package recorder

import (
	"fmt"

	"tourflow/internal/classifier"
	"tourflow/internal/selector"
)

// rawEvent is one page event drained from the capture buffer. The
// snapshot carries everything selector synthesis needs so the element
// never has to be re-queried after the DOM moves on.
type rawEvent struct {
	Kind     string                   `json:"kind"`
	Snapshot selector.ElementSnapshot `json:"snapshot"`
	Value    string                   `json:"value"`
	Hint     *selector.Hint           `json:"hint,omitempty"`
	At       int64                    `json:"at"`
}

// buildCaptureScript returns the page-side capture runtime. It installs
// once and attaches its listeners; the listeners exist on the document
// only while the session is recording (attach/detach follow the state
// machine, driven from Go). testAttr is the attribute the selector
// engine treats as a stable test hook.
func buildCaptureScript(testAttr string) string {
	return fmt.Sprintf(`
(function() {
	if (window.__tourflowCapture) return true;

	var TEST_ATTR = %q;
	var TOOL_ATTR = %q;

	window.__tourflowCapture = {
		events: [],
		attached: false,
		handlers: [],
		hoverTimer: null,
		hoverTarget: null,

		add: function(ev) {
			this.events.push(ev);
		},

		flush: function() {
			var out = this.events;
			this.events = [];
			return out;
		},

		attach: function() {
			if (this.attached) return;
			for (var i = 0; i < this.handlers.length; i++) {
				document.addEventListener(this.handlers[i][0], this.handlers[i][1], true);
			}
			this.attached = true;
		},

		detach: function() {
			if (!this.attached) return;
			for (var i = 0; i < this.handlers.length; i++) {
				document.removeEventListener(this.handlers[i][0], this.handlers[i][1], true);
			}
			this.attached = false;
			this.events = [];
			if (this.hoverTimer) {
				clearTimeout(this.hoverTimer);
				this.hoverTimer = null;
			}
			this.hoverTarget = null;
		},

		snapshot: function(el) {
			var attrs = {};
			for (var i = 0; i < el.attributes.length && i < 24; i++) {
				var a = el.attributes[i];
				if (a.name === 'class' || a.name === 'style') continue;
				attrs[a.name] = (a.value || '').slice(0, 200);
			}
			var classes = [];
			if (el.classList) {
				for (var c = 0; c < el.classList.length; c++) classes.push(el.classList[c]);
			}
			var ancestors = [];
			var p = el.parentElement;
			var depth = 0;
			while (p && p !== document.documentElement && depth < 8) {
				var pcl = [];
				if (p.classList) {
					for (var k = 0; k < p.classList.length && k < 6; k++) pcl.push(p.classList[k]);
				}
				ancestors.push({
					tag: p.tagName.toLowerCase(),
					id: p.id || '',
					classes: pcl,
					test_id: p.getAttribute(TEST_ATTR) || '',
					tag_index: this.rankIn(p, el)
				});
				p = p.parentElement;
				depth++;
			}
			return {
				tag: el.tagName.toLowerCase(),
				id: el.id || '',
				classes: classes,
				attributes: attrs,
				text: (el.textContent || '').trim().slice(0, 160),
				value: el.value !== undefined ? String(el.value).slice(0, 500) : '',
				tag_index: this.rankIn(document, el),
				ancestors: ancestors,
				from_tool_ui: !!(el.closest && el.closest('[' + TOOL_ATTR + ']'))
			};
		},

		rankIn: function(root, el) {
			var list = root.querySelectorAll(el.tagName);
			for (var i = 0; i < list.length; i++) {
				if (list[i] === el) return i + 1;
			}
			return 0;
		},

		isFormControl: function(el) {
			if (!el || !el.tagName) return false;
			var t = el.tagName.toLowerCase();
			return t === 'input' || t === 'textarea' || t === 'select' || el.isContentEditable === true;
		},

		controlValue: function(el) {
			if (el.isContentEditable === true) return (el.textContent || '').slice(0, 500);
			return el.value !== undefined ? String(el.value).slice(0, 500) : '';
		}
	};

	var cap = window.__tourflowCapture;

	cap.handlers = [
		['click', function(event) {
			if (!event.isTrusted || !event.target || !event.target.tagName) return;
			cap.add({
				kind: 'click',
				snapshot: cap.snapshot(event.target),
				hint: { x: event.clientX, y: event.clientY },
				at: Date.now()
			});
		}],
		['input', function(event) {
			if (!event.isTrusted || !cap.isFormControl(event.target)) return;
			cap.add({
				kind: 'input',
				snapshot: cap.snapshot(event.target),
				value: cap.controlValue(event.target),
				at: Date.now()
			});
		}],
		['change', function(event) {
			if (!event.isTrusted || !cap.isFormControl(event.target)) return;
			cap.add({
				kind: 'commit',
				snapshot: cap.snapshot(event.target),
				value: cap.controlValue(event.target),
				at: Date.now()
			});
		}],
		['focusout', function(event) {
			if (!event.isTrusted || !cap.isFormControl(event.target)) return;
			cap.add({
				kind: 'commit',
				snapshot: cap.snapshot(event.target),
				value: cap.controlValue(event.target),
				at: Date.now()
			});
		}],
		['keydown', function(event) {
			if (!event.isTrusted || event.key !== 'Enter' || !cap.isFormControl(event.target)) return;
			cap.add({
				kind: 'commit',
				snapshot: cap.snapshot(event.target),
				value: cap.controlValue(event.target),
				at: Date.now()
			});
		}],
		// Hover is noisy, so a candidate only fires after dwelling 400ms
		// on the same element.
		['mouseover', function(event) {
			if (!event.isTrusted || !event.target || !event.target.tagName) return;
			if (event.target === cap.hoverTarget) return;
			cap.hoverTarget = event.target;
			if (cap.hoverTimer) clearTimeout(cap.hoverTimer);
			cap.hoverTimer = setTimeout(function() {
				if (cap.hoverTarget) {
					cap.add({
						kind: 'hover',
						snapshot: cap.snapshot(cap.hoverTarget),
						at: Date.now()
					});
				}
			}, 400);
		}],
		['mouseout', function(event) {
			if (event.target === cap.hoverTarget) {
				cap.hoverTarget = null;
				if (cap.hoverTimer) {
					clearTimeout(cap.hoverTimer);
					cap.hoverTimer = null;
				}
			}
		}]
	];

	cap.attach();
	console.log('tourflow capture installed');
	return true;
})()`, testAttr, classifier.ToolUIAttr)
}

// drainScript empties the capture buffer and reports the current URL in
// one round trip.
func drainScript() string {
	return `(function(){
var cap = window.__tourflowCapture;
return {
	installed: !!cap,
	url: location.href,
	events: cap ? cap.flush() : []
};})()`
}

// captureAttachScript attaches or detaches the capture listeners. Paused
// and stopped sessions have no listeners on the page at all.
func captureAttachScript(attach bool) string {
	return fmt.Sprintf(`(function(){
var cap = window.__tourflowCapture;
if (!cap) return false;
if (%t) { cap.attach(); } else { cap.detach(); }
return true;})()`, attach)
}
