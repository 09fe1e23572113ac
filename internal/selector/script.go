package selector

import (
	"fmt"
	"strconv"
	"strings"
)

// jsString renders s as a JavaScript string literal.
func jsString(s string) string {
	return strconv.Quote(s)
}

// finderJS builds a JavaScript expression that evaluates to the array of
// elements matched by c, or null when the base CSS is unparseable. The same
// expression is embedded by the query, count, hit-test, highlight and
// perform scripts so every consumer resolves selectors identically.
func finderJS(c compiled) string {
	if c.textOnly {
		return textFinderJS(c.contains)
	}
	base := c.base
	if base == "" {
		base = "*"
	}
	var b strings.Builder
	b.WriteString("(function(){")
	b.WriteString("var safe=function(root,sel){try{return Array.prototype.slice.call(root.querySelectorAll(sel));}catch(e){return null;}};")
	fmt.Fprintf(&b, "var els=safe(document,%s);", jsString(base))
	b.WriteString("if(els===null){return null;}")
	if c.contains != "" {
		fmt.Fprintf(&b, "var needle=%s.toLowerCase();", jsString(c.contains))
		b.WriteString("els=els.filter(function(el){return (el.textContent||'').toLowerCase().indexOf(needle)!==-1;});")
	}
	if c.hasSel != "" {
		fmt.Fprintf(&b, "var inner=%s;", jsString(c.hasSel))
		b.WriteString("els=els.filter(function(el){var m=safe(el,inner);return m!==null&&m.length>0;});")
	}
	if c.nth > 0 {
		fmt.Fprintf(&b, "els=els.length>=%d?[els[%d]]:[];", c.nth, c.nth-1)
	}
	b.WriteString("return els;})()")
	return b.String()
}

// textFinderJS matches a plain-text label. Clickable controls are checked
// first (text content for most, value for input buttons); when none match,
// it falls back to the deepest elements containing the text so a label
// inside nested wrappers still resolves to the innermost node.
func textFinderJS(text string) string {
	return fmt.Sprintf(`(function(){
var needle=%s.toLowerCase();
var has=function(el){var t=(el.textContent||'').toLowerCase();if(t.indexOf(needle)!==-1){return true;}return (el.value||'').toLowerCase().indexOf(needle)!==-1;};
var clickable=document.querySelectorAll('a,button,summary,label,[role="button"],[role="tab"],[role="menuitem"],[role="link"],input[type="button"],input[type="submit"]');
var out=[];
for(var i=0;i<clickable.length;i++){if(has(clickable[i])){out.push(clickable[i]);}}
if(out.length){return out;}
var all=document.getElementsByTagName('*');
for(var j=0;j<all.length;j++){
var el=all[j];
if(!has(el)){continue;}
var deepest=true;
for(var k=0;k<el.children.length;k++){if(has(el.children[k])){deepest=false;break;}}
if(deepest){out.push(el);}
}
return out;})()`, jsString(text))
}

// queryPayload is what queryScript returns to Go.
type queryPayload struct {
	Invalid  bool         `json:"invalid"`
	Elements []ElementRef `json:"elements"`
}

// queryScript wraps the finder so it always yields a JSON payload: the
// matched elements' identities, or invalid=true for unparseable CSS.
func queryScript(c compiled) string {
	return fmt.Sprintf(`(function(){
var els=%s;
if(els===null){return {invalid:true,elements:[]};}
var out=[];
for(var i=0;i<els.length;i++){
var el=els[i];var r=el.getBoundingClientRect();
out.push({tag:el.tagName.toLowerCase(),id:el.id||'',text:(el.textContent||'').replace(/\s+/g,' ').trim().slice(0,80),rect:{top:r.top,left:r.left,width:r.width,height:r.height}});
}
return {invalid:false,elements:out};})()`, finderJS(c))
}

// countScript evaluates to the match count, or -1 for unparseable CSS.
func countScript(c compiled) string {
	return fmt.Sprintf("(function(){var els=%s;return els===null?-1:els.length;})()", finderJS(c))
}

// hitTestScript evaluates to true when the element under the given viewport
// point is one of the matches or is contained by one.
func hitTestScript(c compiled, x, y float64) string {
	return fmt.Sprintf(`(function(){
var els=%s;
if(els===null||els.length===0){return false;}
var at=document.elementFromPoint(%g,%g);
while(at){
for(var i=0;i<els.length;i++){if(els[i]===at){return true;}}
at=at.parentElement;
}
return false;})()`, finderJS(c), x, y)
}

// FinderJS exposes the finder expression for a selector string so the page
// session and overlay scripts can locate elements exactly the way Query
// does. The expression evaluates to an element array (possibly empty) or
// null for unparseable CSS.
func FinderJS(sel string) string {
	return finderJS(parseExtended(sel))
}
