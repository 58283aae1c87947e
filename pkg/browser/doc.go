// Package browser manages remote debugging connections and pooled automation
// sessions built on Playwright.
//
// # Architecture
//
// The package is built around two independent components:
//
// 1. Connector: attaches to an already running browser over the Chrome DevTools
// Protocol, either through an explicit ws:// endpoint or by discovering one from a
// local debugging port, and tracks each attachment until it is detached.
// 2. SessionManager: borrows execution contexts from a ContextPool, opens one page per
// session and owns the session registry with its time-to-live.
//
// # Session Lifecycle
//
//  1. Create: CreateSession acquires a context, opens a page and registers the session
//  2. Use: callers drive the page, resolving "@e3" style refs with ResolveSelector
//  3. Expire: a session past its expiry is removed on the next GetSession or by the
//     background sweep, whichever notices first
//  4. Close: CloseSession, expiry and Shutdown all remove the registry entry first and
//     only the remover returns the context to the pool
//
// # Refs
//
// A separate snapshot step names page elements with short refs and hands the mapping
// to UpdateRefs. ResolveSelector turns "@ref" into an exact role and accessible name
// locator; any other selector goes to the page unchanged.
//
// # Example Usage
//
//	conn, err := connector.Connect(ctx, browser.ConnectOptions{Port: 9222})
//	contexts, err := pool.New(conn.Browser, pool.WithMaxContexts(5))
//	manager := browser.NewSessionManager(contexts)
//	defer manager.Shutdown(ctx)
//
//	session, err := manager.CreateSession(ctx, browser.CreateOptions{
//	    Viewport: &browser.Viewport{Width: 1280, Height: 720},
//	})
//	err = manager.UpdateRefs(session.ID, refs)
//	locator, err := manager.ResolveSelector(session, "@e3")
package browser
