package navigator

import (
	"fmt"

	"tourflow/internal/classifier"
	"tourflow/internal/selector"
)

// DOM ids of the overlay nodes. They carry the reserved tool-UI marker so
// the recorder's capture filter skips clicks on them.
var (
	highlightID = classifier.ToolIDPrefix + "_highlight"
	commentID   = classifier.ToolIDPrefix + "_highlight_comment"
)

// measureScript locates the first match of sel and reports whether it is
// visible along with its bounding box. It never throws.
func measureScript(sel string) string {
	return fmt.Sprintf(`(function(){
var els=%s;
if(els===null||els.length===0){return {found:false};}
var el=els[0];
var r=el.getBoundingClientRect();
var st=window.getComputedStyle(el);
var hidden=!el.isConnected||st.display==='none'||st.visibility==='hidden'||parseFloat(st.opacity)===0||(r.width===0&&r.height===0&&el.offsetParent===null);
return {found:true,hidden:hidden,rect:{top:r.top,left:r.left,width:r.width,height:r.height}};})()`,
		selector.FinderJS(sel))
}

// ensureVisibleScript checks visibility and scroll position for the first
// match of sel and scrolls it into view when needed. Custom scroll
// containers get a manual scrollBy; the document case uses scrollIntoView.
// Fixed-position elements never need scrolling. Always yields a status.
func ensureVisibleScript(sel string) string {
	return fmt.Sprintf(`(function(){
var els=%s;
if(els===null||els.length===0){return {found:false};}
var el=els[0];
var r=el.getBoundingClientRect();
var st=window.getComputedStyle(el);
if(!el.isConnected||st.display==='none'||st.visibility==='hidden'||(r.width===0&&r.height===0)){
return {found:true,hidden:true};
}
var fixed=false;
for(var n=el;n&&n!==document.body;n=n.parentElement){
var ps=window.getComputedStyle(n).position;
if(ps==='fixed'||ps==='sticky'){fixed=true;break;}
}
if(fixed){return {found:true,fixed:true,already_visible:true};}
var container=null;
for(var p=el.parentElement;p&&p!==document.body;p=p.parentElement){
var cs=window.getComputedStyle(p);
if((cs.overflowY==='auto'||cs.overflowY==='scroll')&&p.scrollHeight>p.clientHeight){container=p;break;}
}
if(container){
var cr=container.getBoundingClientRect();
if(r.top>=cr.top&&r.bottom<=cr.bottom){return {found:true,already_visible:true};}
container.scrollBy({top:r.top-cr.top-container.clientHeight/2+r.height/2,behavior:'smooth'});
return {found:true,scrolled:true};
}
if(r.top>=0&&r.bottom<=(window.innerHeight||document.documentElement.clientHeight)){
return {found:true,already_visible:true};
}
el.scrollIntoView({behavior:'smooth',block:'center'});
return {found:true,scrolled:true};})()`,
		selector.FinderJS(sel))
}

// drawScript creates or overwrites the single highlight overlay. The box
// geometry is computed by the manager; the script only renders it. The
// first draw installs resize and scroll listeners that flip the dirty flag
// the reposition loop polls.
func drawScript(o Overlay) string {
	style := fmt.Sprintf("position:fixed;pointer-events:none;z-index:2147483646;box-sizing:border-box;left:%.1fpx;top:%.1fpx;width:%.1fpx;height:%.1fpx;",
		o.DrawRect.Left, o.DrawRect.Top, o.DrawRect.Width, o.DrawRect.Height)
	if o.Mode == ModeBox {
		style += "border:3px solid #ff6b2c;border-radius:4px;background:rgba(255,107,44,0.08);"
	} else {
		style += "border-radius:50%;background:#ff6b2c;box-shadow:0 0 0 4px rgba(255,107,44,0.35);"
	}
	return fmt.Sprintf(`(function(){
var hl=document.getElementById(%s);
if(!hl){
hl=document.createElement('div');
hl.id=%s;
hl.setAttribute(%s,'');
document.body.appendChild(hl);
}
hl.setAttribute('style',%s);
var cm=document.getElementById(%s);
var text=%s;
if(text){
if(!cm){
cm=document.createElement('div');
cm.id=%s;
cm.setAttribute(%s,'');
document.body.appendChild(cm);
}
cm.textContent=text;
cm.setAttribute('style','position:fixed;pointer-events:none;z-index:2147483647;max-width:320px;padding:6px 10px;border-radius:6px;background:#222;color:#fff;font:13px/1.4 sans-serif;left:'+%.1f+'px;top:'+%.1f+'px;');
}else if(cm){
cm.remove();
}
if(!window.__tourflow_hl){
window.__tourflow_hl={dirty:false};
var mark=function(){window.__tourflow_hl.dirty=true;};
window.addEventListener('resize',mark,true);
window.addEventListener('scroll',mark,true);
}
window.__tourflow_hl.dirty=false;
return true;})()`,
		jsStr(highlightID), jsStr(highlightID), jsStr(classifier.ToolUIAttr),
		jsStr(style), jsStr(commentID), jsStr(o.Comment), jsStr(commentID),
		jsStr(classifier.ToolUIAttr), o.CommentLeft(), o.CommentTop())
}

// moveScript repositions the existing overlay without recreating it.
func moveScript(o Overlay) string {
	return fmt.Sprintf(`(function(){
var hl=document.getElementById(%s);
if(!hl){return false;}
hl.style.display='';
hl.style.left=%.1f+'px';hl.style.top=%.1f+'px';
hl.style.width=%.1f+'px';hl.style.height=%.1f+'px';
var cm=document.getElementById(%s);
if(cm){cm.style.display='';cm.style.left=%.1f+'px';cm.style.top=%.1f+'px';}
return true;})()`,
		jsStr(highlightID), o.DrawRect.Left, o.DrawRect.Top,
		o.DrawRect.Width, o.DrawRect.Height,
		jsStr(commentID), o.CommentLeft(), o.CommentTop())
}

// trackProbeScript is polled by the reposition loop. It re-measures the
// target only when the dirty flag was set since the last check.
func trackProbeScript(sel string) string {
	return fmt.Sprintf(`(function(){
if(!window.__tourflow_hl||!window.__tourflow_hl.dirty){return {skipped:true};}
window.__tourflow_hl.dirty=false;
var els=%s;
if(els===null||els.length===0){return {skipped:false,found:false};}
var el=els[0];
if(!el.isConnected){return {skipped:false,found:false};}
var r=el.getBoundingClientRect();
var st=window.getComputedStyle(el);
var hidden=st.display==='none'||st.visibility==='hidden';
return {skipped:false,found:true,hidden:hidden,rect:{top:r.top,left:r.left,width:r.width,height:r.height}};})()`,
		selector.FinderJS(sel))
}

// hideScript hides the overlay without removing it; the target may come
// back after a re-render.
func hideScript() string {
	return fmt.Sprintf(`(function(){
var hl=document.getElementById(%s);
if(hl){hl.style.display='none';}
var cm=document.getElementById(%s);
if(cm){cm.style.display='none';}
return true;})()`, jsStr(highlightID), jsStr(commentID))
}

// removeScript deletes the overlay nodes.
func removeScript() string {
	return fmt.Sprintf(`(function(){
var hl=document.getElementById(%s);
if(hl){hl.remove();}
var cm=document.getElementById(%s);
if(cm){cm.remove();}
return true;})()`, jsStr(highlightID), jsStr(commentID))
}

func jsStr(s string) string {
	return fmt.Sprintf("%q", s)
}
