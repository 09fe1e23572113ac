package page

import (
	"fmt"
	"strconv"

	"tourflow/internal/selector"
)

// The do-side scripts resolve their target through the same finder
// expression the selector engine uses, so replay clicks land on exactly
// the element a query would report.

// clickScript clicks the first match. Returns false when nothing matches.
func clickScript(sel string) string {
	return fmt.Sprintf(`(function(){
var els=%s;
if(els===null||els.length===0){return false;}
var el=els[0];
el.scrollIntoView({block:'center',inline:'center'});
el.click();
return true;})()`, selector.FinderJS(sel))
}

// fillScript sets a control's value the way a user would have: through the
// prototype value setter, so framework-bound inputs observe the change,
// followed by input and change events. Checkboxes and radios toggle their
// checked state instead.
func fillScript(sel, value string) string {
	return fmt.Sprintf(`(function(){
var els=%s;
if(els===null||els.length===0){return false;}
var el=els[0];
var v=%s;
el.focus();
var t=(el.getAttribute('type')||'').toLowerCase();
if(t==='checkbox'||t==='radio'){
el.checked=(v==='true'||v==='on'||v==='1'||v===el.value);
}else{
var proto=el.tagName==='TEXTAREA'?HTMLTextAreaElement.prototype:(el.tagName==='SELECT'?HTMLSelectElement.prototype:HTMLInputElement.prototype);
var d=Object.getOwnPropertyDescriptor(proto,'value');
if(d&&d.set){d.set.call(el,v);}else{el.value=v;}
}
el.dispatchEvent(new Event('input',{bubbles:true}));
el.dispatchEvent(new Event('change',{bubbles:true}));
return true;})()`, selector.FinderJS(sel), strconv.Quote(value))
}

// hoverScript dispatches the pointer events a real mouse-over produces, so
// CSS-only and JS-driven reveals both fire.
func hoverScript(sel string) string {
	return fmt.Sprintf(`(function(){
var els=%s;
if(els===null||els.length===0){return false;}
var el=els[0];
var r=el.getBoundingClientRect();
var opts={bubbles:true,cancelable:true,clientX:r.left+r.width/2,clientY:r.top+r.height/2};
el.dispatchEvent(new MouseEvent('mouseover',opts));
el.dispatchEvent(new MouseEvent('mouseenter',opts));
el.dispatchEvent(new MouseEvent('mousemove',opts));
return true;})()`, selector.FinderJS(sel))
}

// sentinelInstallScript arms the advance detector a guided wait polls: one
// trusted click anywhere on the page flips the flag. Re-arming an existing
// sentinel just resets the flag.
func sentinelInstallScript() string {
	return `(function(){
if(window.__tourflowAdvance){window.__tourflowAdvance.clicked=false;return true;}
window.__tourflowAdvance={clicked:false};
document.addEventListener('click',function(e){
if(!e.isTrusted){return;}
window.__tourflowAdvance.clicked=true;
},true);
return true;})()`
}

// sentinelPollScript reports the sentinel state. A missing sentinel means
// the document was replaced since it was armed.
func sentinelPollScript() string {
	return `(function(){
var s=window.__tourflowAdvance;
return {installed:!!s,clicked:!!(s&&s.clicked)};})()`
}
