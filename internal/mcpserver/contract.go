package mcpserver

// MarkupGuide describes how embedmark turns Markdown links into embeds, so
// LLM consumers can write documents that render the way they expect.
const MarkupGuide = `# embedmark Markup Guide

embedmark renders Markdown with goldmark and GFM, then rewrites links.

## Link embeds

A link (` + "`" + `[text](url)` + "`" + ` or a bare URL) is classified by its URL:

| URL contains | Renders as |
|---|---|
| ` + "`" + `youtube.com/watch?v=ID` + "`" + `, ` + "`" + `youtu.be/ID` + "`" + ` | inline video player |
| ` + "`" + `spotify.com` + "`" + ` | inline audio player (last path segment) |
| ` + "`" + `zenn.dev` + "`" + `, ` + "`" + `qiita.com` + "`" + `, ` + "`" + `nicovideo.jp` + "`" + `, ` + "`" + `nico.ms` + "`" + ` | grid card |
| ` + "`" + `github.com` + "`" + `, ` + "`" + `note.com` + "`" + `, ` + "`" + `soundcloud.com` + "`" + ` | card |
| the configured internal domain | card, opened in the same tab |
| any other http(s) URL | external card |
| relative paths, anchors, mailto: | left as a plain link |

Cards use the page's Open Graph metadata (og:title, og:description,
og:image, og:site_name). A card with an image always uses the grid layout.
When metadata cannot be fetched the card falls back to the link text and
the host name. Matching is by substring anywhere in the URL.

## Wiki-links

- ` + "`" + `[[Page]]` + "`" + ` links to the page whose file stem, path or title is "Page".
- ` + "`" + `[[Page|label]]` + "`" + ` shows "label" instead.
- ` + "`" + `[[Page#Section]]` + "`" + ` links to a heading on that page.
- Targets that match no page get the class ` + "`" + `wikilink-missing` + "`" + `.

## Media embeds

- ` + "`" + `![[photo.png]]` + "`" + ` embeds an image from the asset directory.
- ` + "`" + `![[assets/clip.mp4|Caption]]` + "`" + ` embeds a video (mp4, webm, mov).
- Any other extension is treated as an image.

Links, wiki-links and media embeds inside code spans and code blocks are
never rewritten.

## Frontmatter

` + "```" + `markdown
---
title: Page title          # else the first "# Heading"
description: One line      # used for meta description
slug: custom/url           # else the file path
tags: [go, notes]
draft: true                # indexed but not published
---
` + "```" + `
`
