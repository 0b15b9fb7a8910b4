/*
Package sandbox runs add-on entry scripts in isolated goja runtimes.

# Overview

ScriptLoader implements runtime.ModuleLoader. Each loaded add-on gets its
own VM with:

  - No require, process or eval
  - console.* routed to the host logger, tagged with the add-on id
  - Timers that never fire
  - A per-call timeout enforced with VM interrupts

# Script Contract

The entry script assigns an enable function on exports (or module.exports):

	exports.enable = function (ctx) {
	  ctx.sidebar.addItem({ label: "Budget", route: "/addons/budget" });
	  ctx.router.add({ path: "/addons/budget", title: "Budget" });
	  ctx.onDisable(function () { console.log("bye"); });
	  return function () { console.log("teardown"); };
	};

ctx also exposes addonId, manifest, capabilities and hasCapability("accounts:read").
enable may return a teardown function, an object with a disable method, or
nothing, in which case exports.disable is used if present.
*/
package sandbox
